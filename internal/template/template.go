package template

import (
	"fmt"
	"regexp"
	"sort"
)

// FieldType is the declared value type of an extracted field.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeFloat  FieldType = "float"
	FieldTypeDate   FieldType = "date"
)

// ValidFieldTypes lists the accepted field value types.
var ValidFieldTypes = map[FieldType]bool{
	FieldTypeString: true,
	FieldTypeFloat:  true,
	FieldTypeDate:   true,
}

// Transform names accepted in field definitions.
const (
	TransformLowercase    = "lowercase"
	TransformStripAccents = "strip_accents"
	TransformTrim         = "trim"
)

var validTransforms = map[string]bool{
	TransformLowercase:    true,
	TransformStripAccents: true,
	TransformTrim:         true,
}

// ExtractionOptions controls normalization and value coercion for a template.
type ExtractionOptions struct {
	Currency         string   `json:"currency" yaml:"currency"`
	DecimalSeparator string   `json:"decimal_separator" yaml:"decimal_separator"`
	DateFormats      []string `json:"date_formats" yaml:"date_formats"`
	RemoveWhitespace bool     `json:"remove_whitespace" yaml:"remove_whitespace"`
	RemoveAccents    bool     `json:"remove_accents" yaml:"remove_accents"`
	Lowercase        bool     `json:"lowercase" yaml:"lowercase"`
}

// FieldExtractor is one compiled field rule: ordered patterns, first match wins.
type FieldExtractor struct {
	Name       string
	Patterns   []*regexp.Regexp
	Group      int
	Type       FieldType
	Transforms []string
	Repeating  bool
}

// ExtractionTemplate is a compiled, immutable template. Instances are built
// once at load time and shared read-only across concurrent extractions.
type ExtractionTemplate struct {
	ID       string
	Issuer   string
	Priority int
	Keywords []string
	Fields   []FieldExtractor
	Options  ExtractionOptions
}

// FieldDefinition is the wire form of a single field rule.
type FieldDefinition struct {
	Parser    string   `json:"parser" yaml:"parser"`
	Regex     string   `json:"regex" yaml:"regex"`
	Regexes   []string `json:"regexes" yaml:"regexes"`
	Group     int      `json:"group" yaml:"group"`
	Type      string   `json:"type" yaml:"type"`
	Transform []string `json:"transform" yaml:"transform"`
	Repeating bool     `json:"repeating" yaml:"repeating"`
}

// Definition is the wire form of a template as stored in files or the
// template table. Unknown keys are ignored for forward compatibility.
type Definition struct {
	Issuer   string                     `json:"issuer" yaml:"issuer"`
	Priority int                        `json:"priority" yaml:"priority"`
	Keywords []string                   `json:"keywords" yaml:"keywords"`
	Fields   map[string]FieldDefinition `json:"fields" yaml:"fields"`
	Options  ExtractionOptions          `json:"options" yaml:"options"`
}

// Compile validates a definition and builds the immutable template. Every
// pattern must compile here; a bad pattern fails the whole load, never a
// later extraction.
func Compile(id string, def *Definition) (*ExtractionTemplate, error) {
	if id == "" {
		return nil, fmt.Errorf("template has no identifier")
	}
	if len(def.Keywords) == 0 {
		return nil, fmt.Errorf("template %s: keywords must not be empty", id)
	}

	opts := def.Options
	if opts.DecimalSeparator == "" {
		opts.DecimalSeparator = "."
	}

	// Field names are iterated in lexicographic order so extraction and
	// missing-field reporting are deterministic regardless of codec.
	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]FieldExtractor, 0, len(names))
	for _, name := range names {
		fd := def.Fields[name]
		fe, err := compileField(id, name, &fd)
		if err != nil {
			return nil, err
		}
		fields = append(fields, *fe)
	}

	return &ExtractionTemplate{
		ID:       id,
		Issuer:   def.Issuer,
		Priority: def.Priority,
		Keywords: append([]string(nil), def.Keywords...),
		Fields:   fields,
		Options:  opts,
	}, nil
}

func compileField(templateID, name string, fd *FieldDefinition) (*FieldExtractor, error) {
	if fd.Parser != "" && fd.Parser != "regex" {
		return nil, fmt.Errorf("template %s field %s: unsupported parser %q", templateID, name, fd.Parser)
	}

	raw := fd.Regexes
	if len(raw) == 0 {
		if fd.Regex == "" {
			return nil, fmt.Errorf("template %s field %s: no regex declared", templateID, name)
		}
		raw = []string{fd.Regex}
	}

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("template %s field %s: compiling %q: %w", templateID, name, expr, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("template %s field %s: pattern %q has no capture group", templateID, name, expr)
		}
		patterns = append(patterns, re)
	}

	group := fd.Group
	if group == 0 {
		group = 1
	}

	ftype := FieldType(fd.Type)
	if ftype == "" {
		ftype = FieldTypeString
	}
	if !ValidFieldTypes[ftype] {
		return nil, fmt.Errorf("template %s field %s: unknown type %q", templateID, name, fd.Type)
	}

	for _, tr := range fd.Transform {
		if !validTransforms[tr] {
			return nil, fmt.Errorf("template %s field %s: unknown transform %q", templateID, name, tr)
		}
	}

	return &FieldExtractor{
		Name:       name,
		Patterns:   patterns,
		Group:      group,
		Type:       ftype,
		Transforms: append([]string(nil), fd.Transform...),
		Repeating:  fd.Repeating,
	}, nil
}
