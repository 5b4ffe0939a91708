// Package chanlog implements the two optional, file-based logging
// collaborators spec.md §6 names: an append-only per-packet channel
// log and a per-burst raw-IQ recorder.
//
// Purpose:     Let a node operator replay what was actually heard on
//              the air, independent of the structured application log
//              logging produces — these are data files meant for
//              offline analysis, not operational visibility.
//
// Description: Grounded on the teacher's log.go daily-file rotation
//              (log_init's g_daily_names / g_log_path / g_log_fp):
//              ChannelLog keeps one file open at a time and rotates it
//              when the day (via lestrrat-go/strftime, the same
//              library the teacher's timestamp formatting elsewhere in
//              the pack reaches for) changes under it. BurstRecorder
//              instead numbers files sequentially per spec.md §6's
//              "txdata/txed_data_<n>.bin" naming, one raw little-endian
//              complex64 dump per burst.
package chanlog

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// ChannelLog appends one line per received packet, in the
// "<usec> <Re>+<Im>*1j ..." format spec.md §6 specifies, rotating to a
// new daily-named file as the date changes.
type ChannelLog struct {
	mu       sync.Mutex
	dir      string
	pattern  *strftime.Strftime
	f        *os.File
	openName string
}

// NewChannelLog returns a ChannelLog writing under dir. dir is created
// if it does not already exist.
func NewChannelLog(dir string) (*ChannelLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chanlog: creating %s: %w", dir, err)
	}
	pattern, err := strftime.New("channel-%Y%m%d.dat")
	if err != nil {
		return nil, fmt.Errorf("chanlog: compiling filename pattern: %w", err)
	}
	return &ChannelLog{dir: dir, pattern: pattern}, nil
}

// Close closes the currently open file, if any.
func (c *ChannelLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

func (c *ChannelLog) rotateLocked(now time.Time) error {
	name := c.pattern.FormatString(now)
	if name == c.openName && c.f != nil {
		return nil
	}
	if c.f != nil {
		c.f.Close()
	}
	f, err := os.OpenFile(filepath.Join(c.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("chanlog: opening %s: %w", name, err)
	}
	c.f = f
	c.openName = name
	return nil
}

// Record appends one line for a received sample, with the given
// wall-clock timestamp and the complex sample values it carries (one
// pair per FFT bin or per demod decision point; callers decide the
// granularity).
func (c *ChannelLog) Record(at time.Time, samples []complex64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rotateLocked(at); err != nil {
		return err
	}

	line := fmt.Sprintf("%d", at.UnixMicro())
	for _, s := range samples {
		re := real(complex128(s))
		im := imag(complex128(s))
		sign := "+"
		if im < 0 {
			sign = "-"
			im = -im
		}
		line += fmt.Sprintf(" %g%s%g*1j", re, sign, im)
	}
	line += "\n"

	_, err := c.f.WriteString(line)
	return err
}

// BurstRecorder dumps raw little-endian complex64 I/Q samples for every
// burst, into txdata/ for transmitted bursts and rxdata/ for received
// ones, numbered sequentially per spec.md §6.
type BurstRecorder struct {
	mu      sync.Mutex
	txDir   string
	rxDir   string
	txCount int
	rxCount int
}

// NewBurstRecorder returns a BurstRecorder rooted at dir, creating its
// txdata/ and rxdata/ subdirectories.
func NewBurstRecorder(dir string) (*BurstRecorder, error) {
	txDir := filepath.Join(dir, "txdata")
	rxDir := filepath.Join(dir, "rxdata")
	if err := os.MkdirAll(txDir, 0o755); err != nil {
		return nil, fmt.Errorf("chanlog: creating %s: %w", txDir, err)
	}
	if err := os.MkdirAll(rxDir, 0o755); err != nil {
		return nil, fmt.Errorf("chanlog: creating %s: %w", rxDir, err)
	}
	return &BurstRecorder{txDir: txDir, rxDir: rxDir}, nil
}

// RecordTX writes one transmitted burst's samples to
// txdata/txed_data_<n>.bin.
func (r *BurstRecorder) RecordTX(samples []complex64) error {
	r.mu.Lock()
	n := r.txCount
	r.txCount++
	r.mu.Unlock()
	return writeComplex64(filepath.Join(r.txDir, fmt.Sprintf("txed_data_%d.bin", n)), samples)
}

// RecordRX writes one received slot's samples to
// rxdata/rxed_data_<n>.bin.
func (r *BurstRecorder) RecordRX(samples []complex64) error {
	r.mu.Lock()
	n := r.rxCount
	r.rxCount++
	r.mu.Unlock()
	return writeComplex64(filepath.Join(r.rxDir, fmt.Sprintf("rxed_data_%d.bin", n)), samples)
}

func writeComplex64(path string, samples []complex64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chanlog: creating %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 8*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(imag(s)))
	}
	_, err = f.Write(buf)
	return err
}
