package core

// textenc.go normalises uploaded files to UTF-8.
//
// Exports arrive in whatever character set the producing bank or broker
// uses. Files are decoded once, up front, so that every parser works on
// UTF-8 text:
//
//   - a declared charset (OFX header, column mapping) is looked up by label
//   - undeclared content that is not valid UTF-8 is read as Windows-1252
//   - a leading byte order mark is dropped
//   - for streamed input, ill-formed sequences become U+FFFD

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const utf8BOM = "\xEF\xBB\xBF"

// charsetAliases covers labels exporters emit that are not WHATWG labels.
var charsetAliases = map[string]string{
	"1252":     "windows-1252",
	"cp1252":   "windows-1252",
	"8859-1":   "iso-8859-1",
	"usascii":  "us-ascii",
	"none":     "",
	"unicode":  "utf-8",
	"utf8":     "utf-8",
	"ansi":     "windows-1252",
	"macroman": "macintosh",
}

// LookupCharset resolves a charset label to a decoder. An empty label
// returns a nil encoding, meaning "detect".
func LookupCharset(label string) (encoding.Encoding, error) {
	key := strings.ToLower(strings.TrimSpace(label))
	if alias, ok := charsetAliases[key]; ok {
		key = alias
	}
	if key == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, label)
	}
	return enc, nil
}

// DecodeText converts data to a UTF-8 string. With an empty charset label,
// valid UTF-8 is kept and anything else is read as Windows-1252.
func DecodeText(data []byte, charsetLabel string) (string, error) {
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	enc, err := LookupCharset(charsetLabel)
	if err != nil {
		return "", err
	}
	if enc == nil {
		if utf8.Valid(data) {
			return string(data), nil
		}
		enc = charmap.Windows1252
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
	}
	return strings.TrimPrefix(string(out), utf8BOM), nil
}

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM(s string) string {
	return strings.TrimPrefix(s, utf8BOM)
}

// StripBOMBytes removes a leading UTF-8 byte order mark.
func StripBOMBytes(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte(utf8BOM))
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		if head, err := b.r.Peek(len(utf8BOM)); err == nil && string(head) == utf8BOM {
			_, _ = b.r.Discard(len(utf8BOM))
		}
	}
	return b.r.Read(p)
}

// NewSanitizingReader strips a BOM and replaces ill-formed UTF-8 with
// U+FFFD as the stream is read.
func NewSanitizingReader(r io.Reader) io.Reader {
	return transform.NewReader(NewBOMSkippingReader(r), runes.ReplaceIllFormed())
}
