package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"birthday_bot/generation"
	"birthday_bot/logging"

	"go.uber.org/zap"
)

const (
	DefaultBufferSize   = 100
	DefaultDrainTimeout = 30 * time.Second
	writeTimeout        = 5 * time.Second
)

// Writer records generation entries in the background so request paths
// never wait on SQLite. Entries are dropped, with a warning, when the
// buffer is full.
type Writer struct {
	store  *Store
	logger *logging.Logger
	ch     chan generation.Entry

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWriter starts the background goroutine. bufferSize <= 0 selects
// DefaultBufferSize.
func NewWriter(store *Store, bufferSize int, logger *logging.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Writer{
		store:  store,
		logger: logger.Named("history"),
		ch:     make(chan generation.Entry, bufferSize),
		closed: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record queues e. It never blocks.
func (w *Writer) Record(e generation.Entry) {
	select {
	case <-w.closed:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.ch <- e:
	default:
		w.dropped.Add(1)
		w.logger.Warn("History buffer full, dropping entry", logging.RequestID(e.RequestID))
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.ch:
			w.write(e)
		case <-w.closed:
			for {
				select {
				case e := <-w.ch:
					w.write(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(e generation.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := w.store.Insert(ctx, FromEntry(e)); err != nil {
		w.failed.Add(1)
		w.logger.Error("Failed to write history entry", logging.RequestID(e.RequestID), zap.Error(err))
		return
	}
	w.written.Add(1)
}

// Pending is the number of queued entries.
func (w *Writer) Pending() int { return len(w.ch) }

// WriterStats counts entries by fate.
type WriterStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Pending: w.Pending(),
	}
}

// Close drains queued entries, giving up when ctx ends. Later Record
// calls are dropped.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.closed) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FromEntry maps a generation entry to a row.
func FromEntry(e generation.Entry) Generation {
	g := Generation{
		RequestID:    e.RequestID,
		UserID:       e.UserID,
		OriginalText: e.OriginalText,
		UsedContent:  e.UsedContent,
		Translated:   e.Translated,
		DeviceID:     e.DeviceID,
		NumImages:    e.NumImages,
		SavedImages:  e.SavedImages,
		Outcome:      e.Outcome,
		DurationMS:   e.Duration.Milliseconds(),
		CreatedAt:    e.CreatedAt,
	}
	if e.Err != nil {
		g.ErrorMessage = e.Err.Error()
	}
	return g
}

// RunRetention prunes rows older than retention every interval until ctx
// ends.
func RunRetention(ctx context.Context, store *Store, retention, interval time.Duration, logger *logging.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.Prune(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("History prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("History pruned", zap.Int64("deleted", n))
			}
		}
	}
}
