package core

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var embeddedPresets []byte

// Preset is a named column mapping for a known export layout.
type Preset struct {
	Name        string               `json:"name"`
	Format      domain.FormatKind    `json:"format"`
	Description string               `json:"description,omitempty"`
	Mapping     domain.ColumnMapping `json:"mapping"`
}

type presetFile struct {
	Presets []presetEntry `yaml:"presets"`
}

type presetEntry struct {
	Name        string `yaml:"name"`
	Format      string `yaml:"format"`
	Description string `yaml:"description"`
	Mapping     struct {
		Labels         map[string]string `yaml:"labels"`
		DateFormat     string            `yaml:"date_format"`
		NumberFormat   string            `yaml:"number_format"`
		ColSep         string            `yaml:"col_sep"`
		RowsToSkip     int               `yaml:"rows_to_skip"`
		SignConvention string            `yaml:"sign_convention"`
		AmountStrategy string            `yaml:"amount_strategy"`
		InflowValue    string            `yaml:"inflow_value"`
		Encoding       string            `yaml:"encoding"`
	} `yaml:"mapping"`
}

// Presets is a set of column presets keyed by format and name.
type Presets struct {
	byFormat map[domain.FormatKind][]Preset
}

// LoadPresets reads the built-in presets and, when extraPath is set, the
// presets in that file. A preset in the extra file replaces a built-in one
// with the same format and name.
func LoadPresets(extraPath string) (*Presets, error) {
	p := &Presets{byFormat: make(map[domain.FormatKind][]Preset)}
	if err := p.add(embeddedPresets, "built-in presets"); err != nil {
		return nil, err
	}
	if extraPath != "" {
		data, err := os.ReadFile(extraPath)
		if err != nil {
			return nil, fmt.Errorf("read presets file: %w", err)
		}
		if err := p.add(data, extraPath); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// MustLoadPresets returns the built-in presets and panics if they are invalid.
func MustLoadPresets() *Presets {
	p, err := LoadPresets("")
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Presets) add(data []byte, source string) error {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", source, err)
	}

	for i, e := range file.Presets {
		if strings.TrimSpace(e.Name) == "" || e.Format == "" {
			return fmt.Errorf("%s: preset %d: name and format are required", source, i)
		}
		preset := Preset{
			Name:        e.Name,
			Format:      domain.FormatKind(e.Format),
			Description: e.Description,
			Mapping: domain.ColumnMapping{
				Labels:         make(map[domain.Field]string, len(e.Mapping.Labels)),
				DateFormat:     e.Mapping.DateFormat,
				NumberFormat:   e.Mapping.NumberFormat,
				ColSep:         e.Mapping.ColSep,
				RowsToSkip:     e.Mapping.RowsToSkip,
				SignConvention: domain.SignConvention(e.Mapping.SignConvention),
				AmountStrategy: domain.AmountStrategy(e.Mapping.AmountStrategy),
				InflowValue:    e.Mapping.InflowValue,
				Encoding:       e.Mapping.Encoding,
			},
		}
		for field, label := range e.Mapping.Labels {
			preset.Mapping.Labels[domain.Field(field)] = label
		}
		if preset.Mapping.AmountStrategy == domain.AmountTypeColumn && preset.Mapping.InflowValue == "" {
			return fmt.Errorf("%s: preset %s/%s: type_column strategy needs inflow_value", source, e.Format, e.Name)
		}
		p.put(preset)
	}
	return nil
}

func (p *Presets) put(preset Preset) {
	list := p.byFormat[preset.Format]
	for i := range list {
		if list[i].Name == preset.Name {
			list[i] = preset
			return
		}
	}
	p.byFormat[preset.Format] = append(list, preset)
}

// ForFormat returns the presets of a format in file order.
func (p *Presets) ForFormat(kind domain.FormatKind) []Preset {
	if p == nil {
		return nil
	}
	return p.byFormat[kind]
}

// Get returns a preset by format and name.
func (p *Presets) Get(kind domain.FormatKind, name string) (Preset, bool) {
	for _, preset := range p.ForFormat(kind) {
		if strings.EqualFold(preset.Name, name) {
			return preset, true
		}
	}
	return Preset{}, false
}

// All returns every preset ordered by format then name.
func (p *Presets) All() []Preset {
	var out []Preset
	for _, list := range p.byFormat {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Format != out[j].Format {
			return out[i].Format < out[j].Format
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// MergeMapping overlays the non-zero settings of over onto base.
func MergeMapping(base, over domain.ColumnMapping) domain.ColumnMapping {
	out := base
	if len(over.Labels) > 0 {
		out.Labels = make(map[domain.Field]string, len(base.Labels)+len(over.Labels))
		for f, l := range base.Labels {
			out.Labels[f] = l
		}
		for f, l := range over.Labels {
			out.Labels[f] = l
		}
	}
	if over.DateFormat != "" {
		out.DateFormat = over.DateFormat
	}
	if over.NumberFormat != "" {
		out.NumberFormat = over.NumberFormat
	}
	if over.ColSep != "" {
		out.ColSep = over.ColSep
	}
	if over.RowsToSkip != 0 {
		out.RowsToSkip = over.RowsToSkip
	}
	if over.SignConvention != "" {
		out.SignConvention = over.SignConvention
	}
	if over.AmountStrategy != "" {
		out.AmountStrategy = over.AmountStrategy
	}
	if over.InflowValue != "" {
		out.InflowValue = over.InflowValue
	}
	if over.Encoding != "" {
		out.Encoding = over.Encoding
	}
	if over.CategoryBindings != nil {
		out.CategoryBindings = over.CategoryBindings
	}
	if over.TagBindings != nil {
		out.TagBindings = over.TagBindings
	}
	if over.AccountBindings != nil {
		out.AccountBindings = over.AccountBindings
	}
	return out
}
