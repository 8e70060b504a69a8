// Package encode validates records against a schema and serializes them into
// broker payloads. Encoding is pure: the same record always yields the same
// payload and nothing outside the returned value is touched.
package encode

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"sluice/internal/record"
	"sluice/internal/schema"
)

type Format string

const (
	JSON     Format = "json"
	Protobuf Format = "protobuf"
)

const (
	HeaderOffset      = "sluice-offset"
	HeaderRun         = "sluice-run"
	HeaderContentType = "content-type"
)

// EncodingError is a record-local validation or serialization failure.
type EncodingError struct {
	Offset int64
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode record %d: field %q: %s", e.Offset, e.Field, e.Reason)
}

type Options struct {
	Format Format
	RunID  string
}

type Encoder struct {
	schema      *schema.Schema
	format      Format
	contentType string
	runID       []byte
}

func New(s *schema.Schema, opts Options) (*Encoder, error) {
	if s == nil {
		return nil, fmt.Errorf("encode: nil schema")
	}
	e := &Encoder{schema: s, format: opts.Format, runID: []byte(opts.RunID)}
	switch opts.Format {
	case "", JSON:
		e.format, e.contentType = JSON, "application/json"
	case Protobuf:
		e.contentType = "application/x-protobuf; messageType=google.protobuf.Struct"
	default:
		return nil, fmt.Errorf("encode: unsupported format %q", opts.Format)
	}
	return e, nil
}

func (e *Encoder) Format() Format { return e.format }

// Validate checks r against the schema and returns the fields to serialize.
// Optional fields that are absent stay absent; nothing is coerced.
func (e *Encoder) Validate(r record.Record) (map[string]any, error) {
	out := make(map[string]any, len(r.Fields))
	for _, f := range e.schema.Fields {
		v, present := r.Fields[f.Name]
		if !present {
			if f.Required {
				return nil, &EncodingError{Offset: r.Offset, Field: f.Name, Reason: "required field missing"}
			}
			continue
		}
		if v == nil {
			if !f.Nullable {
				return nil, &EncodingError{Offset: r.Offset, Field: f.Name, Reason: "null not allowed"}
			}
			out[f.Name] = nil
			continue
		}
		if reason := checkType(f.Type, v); reason != "" {
			return nil, &EncodingError{Offset: r.Offset, Field: f.Name, Reason: reason}
		}
		out[f.Name] = v
	}
	for name, v := range r.Fields {
		if _, declared := e.schema.Field(name); declared {
			continue
		}
		if !e.schema.AllowExtra {
			return nil, &EncodingError{Offset: r.Offset, Field: name, Reason: "field not declared in schema"}
		}
		if kindOf(v) == "" {
			return nil, &EncodingError{Offset: r.Offset, Field: name, Reason: fmt.Sprintf("unsupported value type %T", v)}
		}
		out[name] = v
	}
	return out, nil
}

func (e *Encoder) Encode(r record.Record) (record.Payload, error) {
	fields, err := e.Validate(r)
	if err != nil {
		return record.Payload{}, err
	}

	var value []byte
	switch e.format {
	case Protobuf:
		st, err := structpb.NewStruct(fields)
		if err != nil {
			return record.Payload{}, &EncodingError{Offset: r.Offset, Field: "*", Reason: err.Error()}
		}
		value, err = proto.MarshalOptions{Deterministic: true}.Marshal(st)
		if err != nil {
			return record.Payload{}, &EncodingError{Offset: r.Offset, Field: "*", Reason: err.Error()}
		}
	default:
		value, err = json.Marshal(fields)
		if err != nil {
			return record.Payload{}, &EncodingError{Offset: r.Offset, Field: "*", Reason: err.Error()}
		}
	}

	var key []byte
	if kf := e.schema.KeyField; kf != "" {
		key = []byte(keyString(fields[kf]))
	} else {
		key = strconv.AppendUint(nil, xxhash.Sum64(value), 16)
	}

	headers := []record.Header{
		{Key: HeaderOffset, Value: strconv.AppendInt(nil, r.Offset, 10)},
		{Key: HeaderContentType, Value: []byte(e.contentType)},
	}
	if len(e.runID) > 0 {
		headers = append(headers, record.Header{Key: HeaderRun, Value: e.runID})
	}
	return record.Payload{Offset: r.Offset, Key: key, Value: value, Headers: headers}, nil
}

func kindOf(v any) string {
	switch x := v.(type) {
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return "number"
	case bool:
		return "boolean"
	}
	return ""
}

func checkType(want schema.Type, v any) string {
	got := kindOf(v)
	switch {
	case got == "":
		return fmt.Sprintf("unsupported value %v (%T)", v, v)
	case string(want) == got:
		return ""
	case want == schema.Number && got == "integer":
		return ""
	}
	return fmt.Sprintf("expected %s, got %s", want, got)
}

func keyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
