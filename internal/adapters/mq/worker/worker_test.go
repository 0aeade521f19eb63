package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/domain/model"
	logging "github.com/okian/rally/pkg/logger"
)

type mockQueue struct {
	events chan worker.Event
	once   sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{events: make(chan worker.Event, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan worker.Event {
	return mq.events
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.events) })
	return nil
}

type recordingHandler struct {
	mu      sync.Mutex
	handled []string
	fail    map[string]error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{fail: make(map[string]error)}
}

func (h *recordingHandler) HandleConclusion(ctx context.Context, e worker.Event) error { //nolint:gocritic // hugeParam
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.fail[e.ContestID]; ok {
		return err
	}
	h.handled = append(h.handled, e.EventID)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func conclusion(id, contest string) worker.Event {
	return model.ConclusionEvent{
		EventID:   id,
		ContestID: contest,
		Outcome:   model.RealizedOutcome{WinnerID: "sinner", Score: "7-6 6-4"},
		TS:        time.Now(),
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		h := newRecordingHandler()
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a conclusion event arrives", func() {
			q.events <- conclusion("evt-1", "c-1")

			convey.Convey("Then the handler receives it", func() {
				convey.So(eventually(func() bool { return h.count() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the handler fails", func() {
			h.fail["c-bad"] = errors.New("store unavailable")
			q.events <- conclusion("evt-2", "c-bad")
			q.events <- conclusion("evt-3", "c-ok")

			convey.Convey("Then the worker keeps going", func() {
				convey.So(eventually(func() bool { return h.count() == 1 }), convey.ShouldBeTrue)
				convey.So(h.handled, convey.ShouldResemble, []string{"evt-3"})
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer shutdownCancel()

			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})

		convey.Convey("When the context is cancelled", func() {
			cancel()

			convey.Convey("Then Run returns", func() {
				select {
				case <-w.Done():
				case <-time.After(time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the queue closes", func() {
			_ = q.Close()

			convey.Convey("Then Run returns", func() {
				convey.So(eventually(func() bool {
					select {
					case <-w.Done():
						return true
					default:
						return false
					}
				}), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool over a real queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(200))
		h := newRecordingHandler()
		pool := worker.NewPool(4, q, h)
		ctx := context.Background()

		convey.So(pool.Size(), convey.ShouldEqual, 4)
		pool.Start(ctx)

		convey.Convey("When events are submitted and the pool shuts down", func() {
			for i := 0; i < 100; i++ {
				convey.So(q.Enqueue(ctx, conclusion(fmt.Sprintf("evt-%d", i), "c-1")), convey.ShouldBeNil)
			}
			err := pool.Shutdown(ctx)

			convey.Convey("Then every pending event is handled", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(h.count(), convey.ShouldEqual, 100)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool with a non-positive size", t, func() {
		_ = logging.Init()
		pool := worker.NewPool(0, newMockQueue(), worker.HandlerFunc(func(context.Context, worker.Event) error { return nil }))
		convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
