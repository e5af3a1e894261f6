package pipe

import "time"

// worker carries one thread-backend operation: a goroutine performs a single
// blocking read or write against the endpoint's file, stores the outcome,
// and signals the completion event. It exists exactly while the operation is
// pending.
type worker struct {
	done chan struct{} // closed after n/err are stored
	n    int
	err  error
}

// startWorker resets the completion signal and spawns the worker. The
// pending flag is set before the goroutine starts, so a caller can never
// observe a running operation on a non-pending endpoint.
func (e *endpoint) startWorker(io func() (int, error)) {
	if e.worker != nil {
		panic("pipe: worker already running")
	}
	e.ev.Reset()
	w := &worker{done: make(chan struct{})}
	e.worker = w
	e.pending = true
	go func() {
		w.n, w.err = io()
		close(w.done)
		e.ev.Set()
	}()
}

// joinWorker waits for the completion signal (indefinitely if wait is set,
// a pure poll otherwise). If the signal fired it joins the worker, retires
// the operation and returns its outcome with done=true; on a timed-out poll
// it returns done=false and the operation stays pending.
func (e *endpoint) joinWorker(wait bool) (n int, err error, done bool) {
	w := e.worker
	if w == nil {
		panic("pipe: pending endpoint has no worker")
	}
	timeout := time.Duration(0)
	if wait {
		timeout = -1
	}
	if !e.ev.Wait(timeout) {
		return 0, nil, false
	}
	// A worker that signalled completion has already stored its outcome and
	// closed done; this join never blocks meaningfully.
	<-w.done
	e.worker = nil
	e.pending = false
	return w.n, w.err, true
}
