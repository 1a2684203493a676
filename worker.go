package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/chabad360/plugins/v2/module"
)

// ErrWorkerStopped is returned for requests sent to a stopped worker.
var ErrWorkerStopped = errors.New("worker stopped")

// Worker is the goroutine that owns a Process module. The host keeps only the
// worker; the module is reached by sending it requests.
type Worker struct {
	id   int
	name string

	requests chan request
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type request struct {
	ctx   context.Context
	input []byte
	reset bool
	reply chan response
}

type response struct {
	out []byte
	err error
}

// startWorker moves m onto a new goroutine. m must not be used by the caller afterwards.
func startWorker(id int, name string, m module.ProcessModule, logger *slog.Logger) *Worker {
	w := &Worker{
		id:       id,
		name:     name,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run(m, logger)
	return w
}

// ID returns the worker's host-unique id.
func (w *Worker) ID() int {
	return w.id
}

// Name returns the name of the module the worker owns.
func (w *Worker) Name() string {
	return w.name
}

// Done is closed once the worker has stopped and released its module.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Process runs the module's Process on the worker goroutine.
func (w *Worker) Process(ctx context.Context, input []byte) ([]byte, error) {
	resp := w.send(ctx, request{ctx: ctx, input: input})
	return resp.out, resp.err
}

// Reset runs the module's Reset on the worker goroutine.
func (w *Worker) Reset(ctx context.Context) error {
	return w.send(ctx, request{ctx: ctx, reset: true}).err
}

func (w *Worker) send(ctx context.Context, req request) response {
	req.reply = make(chan response, 1)

	select {
	case w.requests <- req:
	case <-w.quit:
		return response{err: fmt.Errorf("%s: %w", w.name, ErrWorkerStopped)}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

func (w *Worker) run(m module.ProcessModule, logger *slog.Logger) {
	defer close(w.done)
	defer func() {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("close process module", "module", w.name, "error", err)
			}
		}
	}()

	logger.Debug("worker started", "module", w.name, "worker", w.id)
	for {
		select {
		case <-w.quit:
			logger.Debug("worker stopped", "module", w.name, "worker", w.id)
			return
		case req := <-w.requests:
			req.reply <- w.handle(m, req)
		}
	}
}

func (w *Worker) handle(m module.ProcessModule, req request) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			resp = response{err: fmt.Errorf("%s: panic: %v", w.name, r)}
		}
	}()

	if req.reset {
		m.Reset()
		return response{}
	}
	out, err := m.Process(req.ctx, req.input)
	return response{out: out, err: err}
}

// stop signals the worker and waits for it to exit.
func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}
