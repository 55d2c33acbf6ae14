package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/chazu/tin/compiler"
)

// workRequest represents a unit of work to be executed on the analysis
// goroutine.
type workRequest struct {
	fn   func(*Workspace) any
	done chan workResult
}

// workResult holds the return value from a workspace operation.
type workResult struct {
	value any
	err   error
}

// Worker serializes all Workspace access through a single goroutine.
// Editor notifications arrive concurrently; analysis state is only ever
// touched by the worker.
type Worker struct {
	ws       *Workspace
	requests chan workRequest
	quit     chan struct{}
	stop     sync.Once

	mu        sync.Mutex
	snapshots uint64 // analyses submitted; the highest is the only current one
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(ws *Workspace) *Worker {
	w := &Worker{
		ws:       ws,
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the workspace, recovering from panics so a
// compiler bug cannot take the server down.
func (w *Worker) execute(fn func(*Workspace) any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.ws)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*Workspace) any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
}

// Analyze rebuilds the documents returned by snapshot. Snapshots are taken
// in submission order, so an analysis still queued when a newer one is
// submitted works on stale text: it is skipped and ok is false.
func (w *Worker) Analyze(ctx context.Context, snapshot func() map[string]string) (diags map[string][]compiler.Diagnostic, ok bool, err error) {
	w.mu.Lock()
	docs := snapshot()
	w.snapshots++
	gen := w.snapshots
	w.mu.Unlock()

	result, err := w.Do(func(ws *Workspace) any {
		if w.current() != gen {
			ws.log.Debugf("skipping analysis %d, superseded by %d", gen, w.current())
			return nil
		}
		return ws.Analyze(ctx, docs)
	})
	if err != nil || result == nil {
		return nil, false, err
	}
	return result.(map[string][]compiler.Diagnostic), true, nil
}

func (w *Worker) current() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshots
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}
