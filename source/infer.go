package source

import (
	"math"
	"strconv"
	"strings"
)

var nullTokens = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "nan": {}, "null": {}, "none": {},
}

// Infer turns a text cell into a scalar. A "string" hint keeps the cell as
// written (nulls still apply), everything else is tried as integer, float and
// boolean before falling back to the trimmed string.
func Infer(cell, hint string) any {
	v := strings.TrimSpace(cell)
	if _, ok := nullTokens[strings.ToLower(v)]; ok {
		return nil
	}
	if hint == "string" {
		return v
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
