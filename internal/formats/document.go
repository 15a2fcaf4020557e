package formats

import (
	"bytes"
	"context"
	"fmt"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
)

func init() {
	core.Register(documentFormat{})
}

// documentFormat is an uploaded statement document awaiting
// classification elsewhere. It is stored but never reaches the ledger.
type documentFormat struct {
	core.NopReconcile
}

func (documentFormat) Kind() domain.FormatKind { return domain.FormatDocument }

func (documentFormat) Traits() core.Traits {
	return core.Traits{
		Label:       "Document",
		Description: "PDF statement stored for classification",
		Extensions:  []string{".pdf"},
		SchemaLess:  true,
	}
}

func (documentFormat) Dedup() core.DedupStrategy                   { return core.DedupNone }
func (documentFormat) RequiredFields(*domain.Import) []domain.Field { return nil }

func (documentFormat) Sniff(content []byte) error {
	if bytes.HasPrefix(bytes.TrimLeft(content, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil
	}
	return fmt.Errorf("%w: not a PDF document", core.ErrMalformedFile)
}

func (documentFormat) Parse(context.Context, core.ParseInput) (*core.Parsed, error) {
	return &core.Parsed{}, nil
}

func (documentFormat) Build(context.Context, *core.Run) error {
	return core.ErrNotPublishable
}
