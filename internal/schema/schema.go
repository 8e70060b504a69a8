// Package schema describes the columns a record must carry before it can be
// encoded. Schemas are loaded from YAML files supplied next to the config.
package schema

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const SupportedVersion = "v1"

type Type string

const (
	String  Type = "string"
	Integer Type = "integer"
	Number  Type = "number"
	Boolean Type = "boolean"
)

func (t Type) valid() bool {
	switch t {
	case String, Integer, Number, Boolean:
		return true
	}
	return false
}

type Field struct {
	Name     string `yaml:"name"`
	Type     Type   `yaml:"type"`
	Required bool   `yaml:"required"`
	Nullable bool   `yaml:"nullable"`
}

type Schema struct {
	SchemaVersion string  `yaml:"schema_version"`
	Name          string  `yaml:"name"`
	Fields        []Field `yaml:"fields"`
	// KeyField names the column used as the partition key. Empty means the
	// key is derived from a hash of the whole encoded record.
	KeyField string `yaml:"key_field"`
	// AllowExtra lets records carry columns the schema does not declare.
	AllowExtra bool `yaml:"allow_extra"`

	index map[string]int
}

// Load parses and validates a schema file.
func Load(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) Validate() error {
	if s.SchemaVersion == "" {
		s.SchemaVersion = SupportedVersion
	}
	if s.SchemaVersion != SupportedVersion {
		return fmt.Errorf("schema_version %q not supported (want %q)", s.SchemaVersion, SupportedVersion)
	}
	if len(s.Fields) == 0 {
		return errors.New("schema: no fields declared")
	}
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema: field #%d has no name", i)
		}
		if !f.Type.valid() {
			return fmt.Errorf("schema: field %q has unknown type %q", f.Name, f.Type)
		}
		if _, dup := s.index[f.Name]; dup {
			return fmt.Errorf("schema: field %q declared twice", f.Name)
		}
		s.index[f.Name] = i
	}
	if s.KeyField != "" {
		f, ok := s.Field(s.KeyField)
		if !ok {
			return fmt.Errorf("schema: key_field %q is not a declared field", s.KeyField)
		}
		if !f.Required || f.Nullable {
			return fmt.Errorf("schema: key_field %q must be required and not nullable", s.KeyField)
		}
	}
	return nil
}

func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Hints maps every string-typed column to "string" so sources keep those
// cells verbatim instead of inferring numbers from them.
func (s *Schema) Hints() map[string]string {
	out := make(map[string]string)
	for _, f := range s.Fields {
		if f.Type == String {
			out[f.Name] = string(String)
		}
	}
	return out
}

// KeyScheme names how partition keys are derived; it is part of the
// checkpoint key so a changed scheme never resumes from a foreign checkpoint.
func (s *Schema) KeyScheme() string {
	if s.KeyField == "" {
		return "hash"
	}
	return "field:" + s.KeyField
}
