package sink_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/record"
	"sluice/sink"
)

type fakeAdapter struct {
	id       int
	closeErr error
	closed   int
}

func (f *fakeAdapter) Configure(sink.Config) error { return nil }
func (f *fakeAdapter) Send(context.Context, string, []record.Payload) (sink.Result, error) {
	return sink.Result{}, nil
}
func (f *fakeAdapter) Close() error { f.closed++; return f.closeErr }

func TestResultObserve(t *testing.T) {
	var r sink.Result
	r.Observe(0, 12)
	r.Observe(0, 10)
	r.Observe(1, 4)
	r.Observe(0, -1)
	assert.Equal(t, 4, r.Count)
	assert.Equal(t, sink.OffsetRange{First: 10, Last: 12}, r.Partitions[0])
	assert.Equal(t, sink.OffsetRange{First: 4, Last: 4}, r.Partitions[1])
}

func TestClassification(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		retryable bool
		fatal     bool
	}{
		{"retryable", sink.Retryable(sink.KindTimeout, base), true, false},
		{"fatal", sink.Fatal(sink.KindAuth, base), false, true},
		{"wrapped fatal", fmt.Errorf("lane 2: %w", sink.Fatal(sink.KindTooLarge, base)), false, true},
		{"unclassified", base, true, false},
		{"canceled", context.Canceled, false, false},
		{"nil", nil, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, sink.IsRetryable(tc.err))
			assert.Equal(t, tc.fatal, sink.IsFatal(tc.err))
		})
	}

	err := sink.Fatal(sink.KindAuth, base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "fatal delivery error (auth)")
}

func TestPoolRoundRobinAndClose(t *testing.T) {
	a, b := &fakeAdapter{id: 1}, &fakeAdapter{id: 2, closeErr: errors.New("close b")}
	p := sink.PoolOf(a, b)
	require.Equal(t, 2, p.Size())

	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, p.Acquire().(*fakeAdapter).id)
	}
	assert.Equal(t, []int{1, 2, 1, 2}, got)

	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close b")
	assert.Equal(t, err, p.Close())
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}

func TestNewPoolUnknownDriver(t *testing.T) {
	_, err := sink.NewPool(sink.Config{Driver: "nope", Connections: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sink "nope"`)
}
