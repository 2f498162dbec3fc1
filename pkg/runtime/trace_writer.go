package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/metrics"
	"github.com/tcmartin/chatflow/pkg/models"
)

type persistOp struct {
	name  string
	apply func(ctx context.Context) error
}

// traceWriter applies the persistence writes of one execution in order on its own goroutine.
// Enqueueing never blocks; failures are logged and counted, never returned.
type traceWriter struct {
	store       ExecutionStore
	executionID string
	logger      logging.Logger
	metrics     *metrics.EngineMetrics

	mu      sync.Mutex
	queue   []persistOp
	closed  bool
	dropped bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// newTraceWriter returns nil when store is nil; a nil writer ignores every call
func newTraceWriter(parent context.Context, store ExecutionStore, executionID string, logger logging.Logger, m *metrics.EngineMetrics) *traceWriter {
	if store == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	w := &traceWriter{
		store:       store,
		executionID: executionID,
		logger:      logger,
		metrics:     m,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	go w.loop()
	return w
}

func (w *traceWriter) saveExecution(execution models.Execution) {
	if w == nil {
		return
	}
	w.enqueue(persistOp{name: "save_execution", apply: func(ctx context.Context) error {
		return w.store.SaveExecution(ctx, execution)
	}})
}

func (w *traceWriter) addTrace(entry models.TraceEntry) {
	if w == nil {
		return
	}
	w.enqueue(persistOp{name: "add_trace", apply: func(ctx context.Context) error {
		return w.store.AddToNodeTrace(ctx, w.executionID, entry)
	}})
}

func (w *traceWriter) updateStatus(update models.ExecutionUpdate) {
	if w == nil {
		return
	}
	w.enqueue(persistOp{name: "update_status", apply: func(ctx context.Context) error {
		return w.store.UpdateStatus(ctx, w.executionID, update)
	}})
}

func (w *traceWriter) enqueue(op persistOp) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *traceWriter) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if w.dropped {
			w.mu.Unlock()
			return
		}
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := op.apply(w.ctx); err != nil {
			if errors.Is(err, models.ErrExecutionTerminal) {
				w.logger.Debug("execution already finished elsewhere", logging.F("execution_id", w.executionID))
				continue
			}
			w.metrics.RecordPersistFailure(op.name)
			w.logger.Warn("failed to persist execution state",
				logging.F("execution_id", w.executionID),
				logging.F("operation", op.name),
				logging.Err(err),
			)
		}
	}
}

// close waits up to timeout for queued writes. Whatever is still queued after that is dropped.
func (w *traceWriter) close(timeout time.Duration) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		w.mu.Lock()
		w.dropped = true
		pending := len(w.queue)
		w.mu.Unlock()
		w.cancel()
		w.logger.Warn("persistence did not drain in time",
			logging.F("execution_id", w.executionID),
			logging.F("pending", pending),
		)
		return
	}
	w.cancel()
}
