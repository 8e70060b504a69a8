package pipeline

import (
	"context"
	"encoding/json"
	"strconv"

	"sluice/internal/encode"
	"sluice/internal/record"
	"sluice/internal/telemetry"
)

type deadLetter struct {
	Offset int64          `json:"offset"`
	Field  string         `json:"field"`
	Reason string         `json:"reason"`
	Record map[string]any `json:"record"`
	RunID  string         `json:"run_id,omitempty"`
}

// deadLetter publishes a rejected record with the delivery retry policy.
func (r *Runner) deadLetter(ctx context.Context, rec record.Record, ee *encode.EncodingError) error {
	value, err := json.Marshal(deadLetter{
		Offset: rec.Offset,
		Field:  ee.Field,
		Reason: ee.Reason,
		Record: rec.Fields,
		RunID:  r.opts.RunID,
	})
	if err != nil {
		return err
	}
	offset := strconv.AppendInt(nil, rec.Offset, 10)
	pl := record.Payload{
		Offset: rec.Offset,
		Key:    offset,
		Value:  value,
		Headers: []record.Header{
			{Key: encode.HeaderOffset, Value: offset},
			{Key: encode.HeaderContentType, Value: []byte("application/json")},
		},
	}
	if err := r.pub.PublishDirect(ctx, r.opts.DeadLetterTopic, pl); err != nil {
		return err
	}
	r.deadLettered.Add(1)
	telemetry.DeadLettered.Inc()
	return nil
}
