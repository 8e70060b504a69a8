package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const churn = `schema_version: v1
name: churn
key_field: customerID
fields:
  - {name: customerID, type: string, required: true}
  - {name: tenure, type: integer, required: true}
  - {name: MonthlyCharges, type: number, required: true}
  - {name: TotalCharges, type: number, nullable: true}
  - {name: Churn, type: string}
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yml")
	require.NoError(t, os.WriteFile(path, []byte(churn), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Fields, 5)

	f, ok := s.Field("TotalCharges")
	require.True(t, ok)
	assert.True(t, f.Nullable)
	assert.Equal(t, Number, f.Type)
	assert.Equal(t, "field:customerID", s.KeyScheme())
	assert.Equal(t, map[string]string{"customerID": "string", "Churn": "string"}, s.Hints())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad version", "schema_version: v9\nfields: [{name: a, type: string}]"},
		{"no fields", "schema_version: v1\nfields: []"},
		{"unknown type", "fields: [{name: a, type: date}]"},
		{"duplicate", "fields: [{name: a, type: string}, {name: a, type: integer}]"},
		{"unknown key", "key_field: b\nfields: [{name: a, type: string}]"},
		{"optional key", "key_field: a\nfields: [{name: a, type: string}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestKeySchemeHash(t *testing.T) {
	s, err := Parse([]byte("fields: [{name: a, type: string}]"))
	require.NoError(t, err)
	assert.Equal(t, "hash", s.KeyScheme())
}
