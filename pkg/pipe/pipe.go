// Package pipe provides half-duplex, asynchronous pipe endpoint pairs with
// an initiate/result API that behaves the same whether the platform offers
// true asynchronous pipe I/O or only synchronous I/O.
//
// A pair is created by New and consists of a ReadEndpoint and a
// WriteEndpoint connected back to back. On Windows the pair is backed by an
// overlapped named pipe and operations complete inside the kernel; on every
// other platform (and on Windows when named pipes are unavailable) each
// operation is carried out by a short-lived worker goroutine performing the
// equivalent blocking call on an anonymous OS pipe. Both backends are
// multiplexed behind the same endpoint state machine.
//
// An Endpoint expects a single owning goroutine. Pending, Backend, RawHandle
// and Signal are safe to call while an operation is outstanding; Initiate,
// Result and Close are not safe to call concurrently with each other.
package pipe

import (
	"errors"
	"math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/solemnwarning/pipe9x/pkg/event"
)

// DefaultBufferSize is the transfer buffer capacity used when an
// EndpointConfig leaves BufferSize unset.
const DefaultBufferSize = 32 * 1024

// InvalidHandle is returned by RawHandle before a handle exists and after
// Close.
const InvalidHandle = ^uintptr(0)

// Backend identifies the mechanism performing I/O for a pair. It is decided
// once, for both endpoints, when the pair is created and never changes.
type Backend int

const (
	// BackendOverlapped performs I/O through overlapped (kernel
	// asynchronous) named pipe operations. Windows only.
	BackendOverlapped Backend = iota
	// BackendThread emulates asynchronous I/O with one blocking worker
	// goroutine per outstanding operation on an anonymous pipe.
	BackendThread
)

func (b Backend) String() string {
	switch b {
	case BackendOverlapped:
		return "overlapped"
	case BackendThread:
		return "thread"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyPending is returned by Initiate while a previous operation
	// has not been retired through Result.
	ErrAlreadyPending = errors.New("pipe: operation already pending")
	// ErrNoPending is returned by Result when no operation is outstanding.
	ErrNoPending = errors.New("pipe: no operation pending")
	// ErrIncomplete is returned by Result while the outstanding operation
	// has not finished yet. The operation stays pending; poll again or wait.
	ErrIncomplete = errors.New("pipe: operation incomplete")
	// ErrTooLarge is returned by WriteEndpoint.Initiate when the payload
	// exceeds the endpoint's buffer capacity. Oversized writes are rejected,
	// never clamped or chunked.
	ErrTooLarge = errors.New("pipe: write exceeds buffer capacity")

	// errNativeUnsupported is the capability-absence signal from the native
	// backend probe. It selects the thread fallback and is never surfaced.
	errNativeUnsupported = errors.New("pipe: overlapped named pipes unsupported")
)

// Signal is a wait-only view of an endpoint's completion signal. The signal
// has manual-reset semantics: it is set while no operation is unresolved and
// waiting never consumes it. Callers must not attempt to alter its state.
type Signal interface {
	// Wait blocks until the signal is set or the timeout elapses and
	// reports whether it was set. Negative waits indefinitely, zero polls.
	Wait(timeout time.Duration) bool
	// Signalled reports the current state without blocking.
	Signalled() bool
}

// EndpointConfig configures one direction of a pair.
type EndpointConfig struct {
	// BufferSize is the transfer buffer capacity in bytes. Zero or negative
	// selects DefaultBufferSize. On the overlapped backend it is also passed
	// to the OS as the pipe buffer size hint.
	BufferSize int
	// Inherit marks the raw handle inheritable by child processes, for
	// callers that hand one endpoint to another process via RawHandle.
	Inherit bool
	// SDDL is an optional security descriptor string applied to the handle.
	// Overlapped backend only; ignored by the thread backend.
	SDDL string
}

type options struct {
	nameSource  func() string
	forceThread bool
	log         *zap.Logger
}

// Option adjusts pair creation.
type Option func(*options)

// WithNameSource overrides the random-name generator used for the
// overlapped backend's named pipe. The returned string must consist of
// characters valid in a pipe name; collisions are retried.
func WithNameSource(f func() string) Option {
	return func(o *options) { o.nameSource = f }
}

// WithThreadBackend skips the native probe and builds the pair on the
// thread-emulated backend. Intended for tests and for exercising the
// fallback path on platforms where the native backend exists.
func WithThreadBackend() Option {
	return func(o *options) { o.forceThread = true }
}

// WithLogger routes creation and teardown diagnostics to l instead of the
// process-global zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// randomName returns a fixed-length pseudo-random run of ASCII letters.
// Pipe names are improvised rather than reserved, so collisions are
// possible and handled by the creation retry loop.
func randomName() string {
	const n = 16
	b := make([]byte, n)
	for i := range b {
		b[i] = 'A' + byte(rand.IntN(26))
	}
	return string(b)
}

// endpoint is the state shared by both directions: the transfer buffer, the
// chosen backend, the pending flag and the backend-specific plumbing. While
// pending is true the buffer and handle are pinned; a kernel operation or a
// worker goroutine may still be writing into them.
type endpoint struct {
	backend Backend
	buf     []byte
	pending bool

	// thread backend
	file   *os.File
	ev     *event.Event
	worker *worker

	// overlapped backend, empty struct off Windows
	native nativeState
}

// Pending reports whether an operation has been initiated and not yet
// retired through Result.
func (e *endpoint) Pending() bool { return e.pending }

// Backend reports which backend the pair was built on.
func (e *endpoint) Backend() Backend { return e.backend }

// Capacity returns the transfer buffer capacity in bytes.
func (e *endpoint) Capacity() int { return len(e.buf) }

// RawHandle exposes the underlying OS handle (file descriptor or pipe
// handle), e.g. for inheritance by a child process. The endpoint keeps
// owning the handle; the caller must not close it.
func (e *endpoint) RawHandle() uintptr {
	if e.backend == BackendThread {
		if e.file == nil {
			return InvalidHandle
		}
		return e.file.Fd()
	}
	return e.nativeHandle()
}

// Signal returns the endpoint's completion signal. It is set whenever no
// operation is unresolved; the view is wait-only by construction.
func (e *endpoint) Signal() Signal {
	if e.backend == BackendOverlapped {
		return e.nativeSignal()
	}
	return e.ev
}

// close releases the endpoint. If an operation is outstanding it blocks,
// regardless of how Result was being polled, until the operation finishes:
// nothing may be released while the kernel or a worker could still touch
// the buffer or handle.
func (e *endpoint) close() error {
	if e == nil {
		return nil
	}
	if e.backend == BackendOverlapped {
		return e.closeNative()
	}
	var firstErr error
	if e.file != nil {
		// Closing the file forces a blocked worker to complete. The field
		// stays set until the worker is joined: the handle must remain valid
		// while an operation is outstanding.
		firstErr = e.file.Close()
	}
	if e.pending {
		if e.worker == nil {
			panic("pipe: pending endpoint has no worker")
		}
		<-e.worker.done
		e.worker = nil
		e.pending = false
	}
	e.file = nil
	e.ev = nil
	return firstErr
}

// ReadEndpoint is the receiving half of a pair.
type ReadEndpoint struct {
	endpoint
}

// WriteEndpoint is the sending half of a pair.
type WriteEndpoint struct {
	endpoint
}

// New creates a connected endpoint pair, choosing the backend for both
// sides at once: the overlapped named-pipe backend where the platform
// supports it, the thread-emulated anonymous-pipe backend otherwise. On
// failure nothing is returned and every partially constructed resource has
// been released.
func New(read, write EndpointConfig, opts ...Option) (*ReadEndpoint, *WriteEndpoint, error) {
	o := options{nameSource: randomName}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = zap.L()
	}

	// Buffers exist before any OS primitive is touched; they are pinned for
	// the life of the endpoints.
	r := &ReadEndpoint{endpoint: endpoint{buf: make([]byte, bufSize(read.BufferSize))}}
	w := &WriteEndpoint{endpoint: endpoint{buf: make([]byte, bufSize(write.BufferSize))}}

	if !o.forceThread {
		err := connectNative(&r.endpoint, &w.endpoint, read, write, o.nameSource, log)
		if err == nil {
			log.Debug("pipe pair connected", zap.String("backend", BackendOverlapped.String()))
			return r, w, nil
		}
		if !errors.Is(err, errNativeUnsupported) {
			return nil, nil, err
		}
		log.Debug("overlapped named pipes unavailable, falling back to thread backend")
	}

	if err := connectThread(&r.endpoint, &w.endpoint, read, write); err != nil {
		return nil, nil, err
	}
	log.Debug("pipe pair connected", zap.String("backend", BackendThread.String()))
	return r, w, nil
}

func bufSize(n int) int {
	if n <= 0 {
		return DefaultBufferSize
	}
	return n
}

// connectThread builds the pair on an anonymous OS pipe. Both sides get the
// thread backend; the decision covers the whole pair.
func connectThread(r, w *endpoint, read, write EndpointConfig) error {
	rf, wf, err := os.Pipe()
	if err != nil {
		return err
	}
	if err := setInherit(rf, read.Inherit); err != nil {
		rf.Close()
		wf.Close()
		return err
	}
	if err := setInherit(wf, write.Inherit); err != nil {
		rf.Close()
		wf.Close()
		return err
	}
	r.backend = BackendThread
	r.file = rf
	r.ev = event.New()
	w.backend = BackendThread
	w.file = wf
	w.ev = event.New()
	return nil
}

// Initiate starts an asynchronous read into the endpoint's buffer. It never
// blocks. A nil return means the operation is pending and its outcome must
// be retrieved through Result, even if the OS completed it immediately.
func (r *ReadEndpoint) Initiate() error {
	if r.pending {
		return ErrAlreadyPending
	}
	if r.backend == BackendOverlapped {
		return r.initiateNativeRead()
	}
	// The worker holds the file by value so a concurrent Close tearing down
	// the endpoint fields cannot race with the read.
	f := r.file
	r.startWorker(func() (int, error) { return f.Read(r.buf) })
	return nil
}

// Result retrieves the outcome of the pending read. With wait set it blocks
// until the operation finishes; otherwise it polls and returns
// ErrIncomplete, leaving the operation pending, if the read has not
// finished. On success the returned slice aliases the endpoint's internal
// buffer and is valid until the next Initiate. A read against a closed,
// drained peer returns io.EOF.
func (r *ReadEndpoint) Result(wait bool) ([]byte, error) {
	if !r.pending {
		return nil, ErrNoPending
	}
	if r.backend == BackendOverlapped {
		return r.resultNativeRead(wait)
	}
	n, err, done := r.joinWorker(wait)
	if !done {
		return nil, ErrIncomplete
	}
	if err != nil {
		return nil, err
	}
	return r.buf[:n], nil
}

// Close releases the read endpoint, blocking for any outstanding operation
// first. Closing a nil endpoint is a no-op.
func (r *ReadEndpoint) Close() error {
	if r == nil {
		return nil
	}
	return r.close()
}

// Initiate copies p into the endpoint's buffer and starts an asynchronous
// write of it. It never blocks. Payloads larger than the buffer capacity
// are rejected with ErrTooLarge.
func (w *WriteEndpoint) Initiate(p []byte) error {
	if w.pending {
		return ErrAlreadyPending
	}
	if len(p) > len(w.buf) {
		return ErrTooLarge
	}
	n := copy(w.buf, p)
	if w.backend == BackendOverlapped {
		return w.initiateNativeWrite(n)
	}
	f := w.file
	w.startWorker(func() (int, error) { return f.Write(w.buf[:n]) })
	return nil
}

// Result retrieves the outcome of the pending write: the number of bytes
// actually written on success, ErrIncomplete (operation still pending) on a
// timed-out poll, or the write error.
func (w *WriteEndpoint) Result(wait bool) (int, error) {
	if !w.pending {
		return 0, ErrNoPending
	}
	if w.backend == BackendOverlapped {
		return w.resultNativeWrite(wait)
	}
	n, err, done := w.joinWorker(wait)
	if !done {
		return 0, ErrIncomplete
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the write endpoint, blocking for any outstanding operation
// first. Closing a nil endpoint is a no-op. The peer's reads observe
// end-of-stream once buffered bytes are drained.
func (w *WriteEndpoint) Close() error {
	if w == nil {
		return nil
	}
	return w.close()
}
