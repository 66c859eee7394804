package eventstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/gateway/pkg/event"
	"github.com/nao1215/gateway/pkg/logging"
)

// DefaultQueueSize は Writer の既定のキュー長。
const DefaultQueueSize = 1024

// appendTimeout は1件の追記にかける時間の上限。
const appendTimeout = 5 * time.Second

// Recorder はイベントを記録する。Record は呼び出し元をブロックしてはならない。
type Recorder interface {
	Record(ev *event.Event)
}

// NopRecorder は何も記録しない Recorder。イベントログが無効な場合に使う。
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(*event.Event) {}

// appender は Writer の書き込み先。
type appender interface {
	Append(ctx context.Context, ev *event.Event) error
}

// Writer はイベントを専用のゴルーチンでストアに追記する Recorder。
// キューが満杯の場合、イベントは破棄して警告を出す。
type Writer struct {
	store   appender
	queue   chan *event.Event
	logger  *zap.Logger
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewWriter は Writer を生成し、書き込みゴルーチンを開始する。
// queueSize が0以下の場合は DefaultQueueSize を使う。
func NewWriter(store *Store, queueSize int, logger *zap.Logger) *Writer {
	return newWriter(store, queueSize, logger)
}

func newWriter(store appender, queueSize int, logger *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Writer{
		store:  store,
		queue:  make(chan *event.Event, queueSize),
		logger: logging.OrGlobal(logger),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Record はイベントをキューに積む。キューが満杯またはクローズ済みの場合は破棄する。
func (w *Writer) Record(ev *event.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(ev, ErrClosed.Error())
		return
	}

	select {
	case w.queue <- ev:
	default:
		w.drop(ev, "キューが満杯です")
	}
}

// Dropped は破棄したイベントの累計数を返す。
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close は新しいイベントの受け付けを止め、キューに残ったイベントを書き終えるまで待つ。
// ctx が先に終了した場合は ctx のエラーを返す。
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run はキューからイベントを取り出してストアに追記する。
func (w *Writer) run() {
	defer close(w.done)
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := w.store.Append(ctx, ev); err != nil {
			w.logger.Error("イベントの書き込みに失敗",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.EventType)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (w *Writer) drop(ev *event.Event, reason string) {
	n := w.dropped.Add(1)
	w.logger.Warn("イベントを破棄",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.EventType)),
		zap.String("reason", reason),
		zap.Int64("dropped_total", n),
	)
}
