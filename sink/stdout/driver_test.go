package stdout_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/record"
	"sluice/sink"
	"sluice/sink/stdout"
)

func TestSyntheticOffsets(t *testing.T) {
	var buf bytes.Buffer
	d := stdout.New(&buf)
	require.NoError(t, d.Configure(sink.Config{}))

	msgs := []record.Payload{
		{Offset: 0, Key: []byte("a"), Value: []byte(`{"x":1}`)},
		{Offset: 1, Key: []byte("b"), Value: []byte(`{"x":2}`)},
	}
	res, err := d.Send(context.Background(), "t", msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, sink.OffsetRange{First: 0, Last: 1}, res.Partitions[0])

	res, err = d.Send(context.Background(), "t", msgs[:1])
	require.NoError(t, err)
	assert.Equal(t, sink.OffsetRange{First: 2, Last: 2}, res.Partitions[0])

	assert.Contains(t, buf.String(), `t[0]@1 key=b {"x":2}`)
	require.NoError(t, d.Close())
}

func TestRegistered(t *testing.T) {
	a, err := sink.NewAdapter("stdout")
	require.NoError(t, err)
	require.NoError(t, a.Configure(sink.Config{}))
}
