package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		cell string
		hint string
		want any
	}{
		{"", "", nil},
		{" ", "", nil},
		{"NaN", "", nil},
		{"NA", "string", nil},
		{"42", "", int64(42)},
		{"-3", "", int64(-3)},
		{"29.85", "", 29.85},
		{"True", "", true},
		{"false", "", false},
		{"Yes", "", "Yes"},
		{"01234", "string", "01234"},
		{"inf", "", "inf"},
		{" Month-to-month ", "", "Month-to-month"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Infer(tt.cell, tt.hint), "cell %q hint %q", tt.cell, tt.hint)
	}
}

func TestDetectCompression(t *testing.T) {
	assert.Equal(t, "gzip", DetectCompression("rows.csv.gz"))
	assert.Equal(t, "zstd", DetectCompression("rows.csv.ZST"))
	assert.Equal(t, "snappy", DetectCompression("rows.sz"))
	assert.Equal(t, "lz4", DetectCompression("rows.lz4"))
	assert.Equal(t, "none", DetectCompression("rows.csv"))
}
