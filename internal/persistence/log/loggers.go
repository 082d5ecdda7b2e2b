package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"freightline.ai/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed segment files, one
// segment per in-game day of the entry stream. Reopening a segment appends a
// fresh zstd frame; readers decode concatenated frames transparently.
type JSONLZstdWriter struct {
	baseDir  string
	prefix   string
	dayTicks uint64

	mu     sync.Mutex
	curDay string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

// NewJSONLZstdWriter writes under baseDir with the given filename prefix,
// starting a new segment whenever the entry tick crosses a day boundary.
// A zero dayTicks keeps everything in one segment.
func NewJSONLZstdWriter(baseDir, prefix string, dayTicks uint64) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir:  baseDir,
		prefix:   prefix,
		dayTicks: dayTicks,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(tick uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.segmentFor(tick)
	if day != w.curDay {
		if err := w.rotateLocked(day); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// segmentFor names the day segment a tick belongs to. Zero-padded so the
// lexicographic file order the replayer walks matches day order.
func (w *JSONLZstdWriter) segmentFor(tick uint64) string {
	day := uint64(0)
	if w.dayTicks > 0 {
		day = tick / w.dayTicks
	}
	return fmt.Sprintf("d%06d", day)
}

func (w *JSONLZstdWriter) rotateLocked(day string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForDay(day))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForDay(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curDay = day
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curDay = ""
	return err1
}

func (w *JSONLZstdWriter) pathForDay(day string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, day))
}

// TickLogger writes one JSONL entry per tick (compressed), segmented by
// in-game day.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string, dayTicks uint64) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "events"), "events", dayTicks)}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v.Tick, v) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// AuditLogger writes audit JSONL entries (compressed), segmented the same
// way as the tick log so the two line up day for day.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(worldDir string, dayTicks uint64) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "audit"), "audit", dayTicks)}
}

func (l *AuditLogger) WriteAudit(v world.AuditEntry) error { return l.w.Write(v.Tick, v) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }
