package ndjson

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/record"
	"sluice/source"
)

const rows = `{"customerID":"7590-VHVEG","tenure":1,"MonthlyCharges":29.85,"Partner":true}

{"customerID":"5575-GNVDE","tenure":34,"MonthlyCharges":56.95,"TotalCharges":null}
{"customerID":"3668-QPYBK","tenure":2,"tags":["a","b"]}
`

func readAll(t *testing.T, path string, start int64) ([]record.Record, error) {
	t.Helper()
	a, err := source.NewAdapter("ndjson")
	require.NoError(t, err)
	require.NoError(t, a.Configure(source.Config{}))
	s, err := a.Open(path, start)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	var out []record.Record
	for r, err := range s.Records() {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func TestRecords_SkipsBlankLinesAndTypesNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(rows), 0o644))

	recs, err := readAll(t, path, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(1), recs[0].Fields["tenure"])
	assert.Equal(t, 29.85, recs[0].Fields["MonthlyCharges"])
	assert.Equal(t, true, recs[0].Fields["Partner"])
	assert.Nil(t, recs[1].Fields["TotalCharges"])
	assert.Equal(t, `["a","b"]`, recs[2].Fields["tags"])
	assert.Equal(t, int64(2), recs[2].Offset)

	tail, err := readAll(t, path, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, recs[2], tail[0])
}

func TestRecords_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n{oops\n"), 0o644))

	recs, err := readAll(t, path, 0)
	assert.Len(t, recs, 1)
	assert.ErrorIs(t, err, source.ErrSourceUnreadable)
}

func TestRecords_Zstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write([]byte(rows))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "rows.ndjson.zst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	recs, err := readAll(t, path, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}
