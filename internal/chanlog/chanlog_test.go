package chanlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelLogRecordWritesExpectedLine(t *testing.T) {
	dir := t.TempDir()
	cl, err := NewChannelLog(dir)
	require.NoError(t, err)
	defer cl.Close()

	at := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cl.Record(at, []complex64{complex(1, -2), complex(0, 0.5)}))
	require.NoError(t, cl.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "channel-20260304.dat", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "1-2*1j")
	assert.Contains(t, line, "0+0.5*1j")
}

func TestChannelLogRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	cl, err := NewChannelLog(dir)
	require.NoError(t, err)
	defer cl.Close()

	day1 := time.Date(2026, time.March, 4, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	require.NoError(t, cl.Record(day1, []complex64{1}))
	require.NoError(t, cl.Record(day2, []complex64{1}))
	require.NoError(t, cl.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBurstRecorderNumbersFilesSequentially(t *testing.T) {
	dir := t.TempDir()
	r, err := NewBurstRecorder(dir)
	require.NoError(t, err)

	require.NoError(t, r.RecordTX([]complex64{complex(1, 2), complex(3, 4)}))
	require.NoError(t, r.RecordTX([]complex64{complex(5, 6)}))
	require.NoError(t, r.RecordRX([]complex64{complex(7, 8)}))

	first, err := os.ReadFile(filepath.Join(dir, "txdata", "txed_data_0.bin"))
	require.NoError(t, err)
	assert.Len(t, first, 16)

	second, err := os.ReadFile(filepath.Join(dir, "txdata", "txed_data_1.bin"))
	require.NoError(t, err)
	assert.Len(t, second, 8)

	rx, err := os.ReadFile(filepath.Join(dir, "rxdata", "rxed_data_0.bin"))
	require.NoError(t, err)
	assert.Len(t, rx, 8)
}
