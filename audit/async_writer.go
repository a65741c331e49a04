package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncWriterSink encodes entries as JSON lines on a background goroutine.
type AsyncWriterSink struct {
	entries   chan Entry
	writer    io.Writer
	wg        sync.WaitGroup
	logger    *slog.Logger
	closeOnce sync.Once

	sendMu sync.RWMutex
	closed bool

	blockOnFull bool

	dropCount   uint64
	lastLogTime time.Time
	dropMu      sync.Mutex
}

func NewAsyncWriterSink(w io.Writer, bufferSize int, blockOnFull bool, logger *slog.Logger) *AsyncWriterSink {
	if w == nil {
		w = os.Stdout
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &AsyncWriterSink{
		entries:     make(chan Entry, bufferSize),
		writer:      w,
		logger:      logger.With("component", "audit_writer"),
		blockOnFull: blockOnFull,
		lastLogTime: time.Now().Add(-time.Minute),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

func (s *AsyncWriterSink) Write(ctx context.Context, entry Entry) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}

	if s.blockOnFull {
		select {
		case s.entries <- entry:
			return nil
		case <-ctx.Done():
			s.handleDrop(entry.Action + "_ctx_cancelled")
			return ctx.Err()
		}
	}

	select {
	case s.entries <- entry:
	default:
		s.handleDrop(entry.Action)
	}
	return nil
}

func (s *AsyncWriterSink) handleDrop(action string) {
	mirrorDroppedTotal.WithLabelValues(MirrorStdout).Inc()
	currentDrops := atomic.AddUint64(&s.dropCount, 1)

	s.dropMu.Lock()
	defer s.dropMu.Unlock()

	if time.Since(s.lastLogTime) < 5*time.Second {
		return
	}

	s.logger.Warn("audit mirror buffer full, entries dropped",
		"strategy", "drop_on_full",
		"total_dropped", currentDrops,
		"sample_action", action,
	)
	atomic.StoreUint64(&s.dropCount, 0)
	s.lastLogTime = time.Now()
}

func (s *AsyncWriterSink) worker() {
	defer s.wg.Done()
	encoder := json.NewEncoder(s.writer)

	for entry := range s.entries {
		if err := encoder.Encode(entry); err != nil {
			s.logger.Error("Failed to write audit entry", "error", err, "entry_id", entry.ID)
		}
	}
}

// Close flushes queued entries.
func (s *AsyncWriterSink) Close() error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.entries)
		s.sendMu.Unlock()
	})
	s.wg.Wait()
	return nil
}
