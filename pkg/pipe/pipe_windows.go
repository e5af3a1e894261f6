//go:build windows

package pipe

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"
	"unsafe"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

// nativeState is the overlapped-backend half of an endpoint: the pipe
// handle, the manual-reset completion event and the OVERLAPPED block whose
// HEvent it is. The event doubles as the endpoint's completion signal.
type nativeState struct {
	handle windows.Handle
	evt    windows.Handle
	ov     windows.Overlapped
}

// pipeNamePrefix is the process-local namespace for improvised pipe names.
const pipeNamePrefix = `\\.\pipe\pipe9x_`

// connectNative establishes the pair on an overlapped named pipe: create a
// single-instance inbound pipe under a random name (retrying collisions),
// begin an asynchronous accept, open the client side against the same name,
// then block until the accept completes. ERROR_CALL_NOT_IMPLEMENTED from
// pipe creation is the capability-absence signal that selects the thread
// fallback; it is reported as errNativeUnsupported and never surfaced.
func connectNative(r, w *endpoint, read, write EndpointConfig, nameSource func() string, log *zap.Logger) error {
	r.native.handle = windows.InvalidHandle
	w.native.handle = windows.InvalidHandle

	release := func() {
		if w.native.handle != windows.InvalidHandle {
			windows.CloseHandle(w.native.handle)
			w.native.handle = windows.InvalidHandle
		}
		if r.native.handle != windows.InvalidHandle {
			windows.CloseHandle(r.native.handle)
			r.native.handle = windows.InvalidHandle
		}
		if w.native.evt != 0 {
			windows.CloseHandle(w.native.evt)
			w.native.evt = 0
		}
		if r.native.evt != 0 {
			windows.CloseHandle(r.native.evt)
			r.native.evt = 0
		}
	}

	// Completion events first, created signalled: an endpoint with no
	// outstanding operation reads as signalled from the start.
	var err error
	if r.native.evt, err = windows.CreateEvent(nil, 1, 1, nil); err != nil {
		return fmt.Errorf("pipe: create event: %w", err)
	}
	if w.native.evt, err = windows.CreateEvent(nil, 1, 1, nil); err != nil {
		release()
		return fmt.Errorf("pipe: create event: %w", err)
	}

	rsa, rsd, err := securityAttributes(read)
	if err != nil {
		release()
		return err
	}
	wsa, wsd, err := securityAttributes(write)
	if err != nil {
		release()
		return err
	}

	var name string
	for r.native.handle == windows.InvalidHandle {
		name = pipeNamePrefix + nameSource()
		name16, err := windows.UTF16PtrFromString(name)
		if err != nil {
			release()
			return fmt.Errorf("pipe: pipe name: %w", err)
		}
		h, err := windows.CreateNamedPipe(
			name16,
			windows.PIPE_ACCESS_INBOUND|windows.FILE_FLAG_OVERLAPPED|windows.FILE_FLAG_FIRST_PIPE_INSTANCE,
			windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
			1,
			uint32(len(r.buf)),
			uint32(len(r.buf)),
			0,
			rsa,
		)
		switch {
		case err == nil:
			r.native.handle = h
		case errors.Is(err, windows.ERROR_FILE_EXISTS) || errors.Is(err, windows.ERROR_ACCESS_DENIED):
			// Names are improvised, not reserved; pick another.
			log.Debug("pipe name collision, retrying", zap.String("name", name))
		case errors.Is(err, windows.ERROR_CALL_NOT_IMPLEMENTED):
			release()
			return errNativeUnsupported
		default:
			release()
			return fmt.Errorf("pipe: create named pipe: %w", err)
		}
	}
	runtime.KeepAlive(rsd)

	// Asynchronous accept; the client connect below is its counterpart.
	r.native.ov = windows.Overlapped{HEvent: r.native.evt}
	accepted := false
	if err := windows.ConnectNamedPipe(r.native.handle, &r.native.ov); err != nil {
		switch {
		case errors.Is(err, windows.ERROR_IO_PENDING):
		case errors.Is(err, windows.ERROR_PIPE_CONNECTED):
			accepted = true
		default:
			release()
			return fmt.Errorf("pipe: accept: %w", err)
		}
	} else {
		accepted = true
	}

	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		release()
		return fmt.Errorf("pipe: pipe name: %w", err)
	}
	w.native.handle, err = windows.CreateFile(
		name16,
		windows.GENERIC_WRITE,
		0,
		wsa,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		w.native.handle = windows.InvalidHandle
		release()
		return fmt.Errorf("pipe: connect: %w", err)
	}
	runtime.KeepAlive(wsd)

	if !accepted {
		var done uint32
		if err := windows.GetOverlappedResult(r.native.handle, &r.native.ov, &done, true); err != nil {
			release()
			return fmt.Errorf("pipe: accept: %w", err)
		}
	}
	// The accept consumed the read-side event; restore the idle state.
	if err := windows.SetEvent(r.native.evt); err != nil {
		release()
		return fmt.Errorf("pipe: set event: %w", err)
	}

	r.backend = BackendOverlapped
	w.backend = BackendOverlapped
	log.Debug("overlapped pipe pair established", zap.String("name", name))
	return nil
}

// securityAttributes builds SECURITY_ATTRIBUTES from an endpoint config.
// The returned byte slice backs the descriptor and must be kept alive until
// the handle has been created.
func securityAttributes(cfg EndpointConfig) (*windows.SecurityAttributes, []byte, error) {
	if !cfg.Inherit && cfg.SDDL == "" {
		return nil, nil, nil
	}
	sa := &windows.SecurityAttributes{}
	sa.Length = uint32(unsafe.Sizeof(*sa))
	if cfg.Inherit {
		sa.InheritHandle = 1
	}
	var sd []byte
	if cfg.SDDL != "" {
		var err error
		sd, err = winio.SddlToSecurityDescriptor(cfg.SDDL)
		if err != nil {
			return nil, nil, fmt.Errorf("pipe: security descriptor: %w", err)
		}
		sa.SecurityDescriptor = (*windows.SECURITY_DESCRIPTOR)(unsafe.Pointer(&sd[0]))
	}
	return sa, sd, nil
}

func (e *endpoint) initiateNativeRead() error {
	e.native.ov = windows.Overlapped{HEvent: e.native.evt}
	var done uint32
	err := windows.ReadFile(e.native.handle, e.buf, &done, &e.native.ov)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		return fmt.Errorf("pipe: read: %w", err)
	}
	// Immediate completion still goes through Result, like ERROR_IO_PENDING.
	e.pending = true
	return nil
}

func (e *endpoint) resultNativeRead(wait bool) ([]byte, error) {
	var done uint32
	if err := windows.GetOverlappedResult(e.native.handle, &e.native.ov, &done, wait); err != nil {
		if errors.Is(err, windows.ERROR_IO_INCOMPLETE) {
			return nil, ErrIncomplete
		}
		e.pending = false
		if errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_HANDLE_EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("pipe: read result: %w", err)
	}
	e.pending = false
	return e.buf[:done], nil
}

func (e *endpoint) initiateNativeWrite(n int) error {
	e.native.ov = windows.Overlapped{HEvent: e.native.evt}
	var done uint32
	err := windows.WriteFile(e.native.handle, e.buf[:n], &done, &e.native.ov)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		return fmt.Errorf("pipe: write: %w", err)
	}
	e.pending = true
	return nil
}

func (e *endpoint) resultNativeWrite(wait bool) (int, error) {
	var done uint32
	if err := windows.GetOverlappedResult(e.native.handle, &e.native.ov, &done, wait); err != nil {
		if errors.Is(err, windows.ERROR_IO_INCOMPLETE) {
			return 0, ErrIncomplete
		}
		e.pending = false
		return 0, fmt.Errorf("pipe: write result: %w", err)
	}
	e.pending = false
	return int(done), nil
}

func (e *endpoint) nativeHandle() uintptr {
	if e.native.handle == windows.InvalidHandle {
		return InvalidHandle
	}
	return uintptr(e.native.handle)
}

func (e *endpoint) nativeSignal() Signal { return kernelEvent{e.native.evt} }

// closeNative releases the endpoint: handle first, then an unconditional
// wait for any outstanding operation (closing the handle forces it to
// complete), then the event. The buffer is never released while the kernel
// could still be writing into it.
func (e *endpoint) closeNative() error {
	var firstErr error
	if e.native.handle != windows.InvalidHandle {
		firstErr = windows.CloseHandle(e.native.handle)
		e.native.handle = windows.InvalidHandle
	}
	if e.pending {
		kernelEvent{e.native.evt}.Wait(-1)
		e.pending = false
	}
	if e.native.evt != 0 {
		if err := windows.CloseHandle(e.native.evt); err != nil && firstErr == nil {
			firstErr = err
		}
		e.native.evt = 0
	}
	return firstErr
}

// kernelEvent adapts a manual-reset kernel event to the Signal interface.
type kernelEvent struct {
	h windows.Handle
}

func (k kernelEvent) Wait(timeout time.Duration) bool {
	var ms uint32
	switch {
	case timeout < 0:
		ms = windows.INFINITE
	case timeout > 0:
		ms = uint32(timeout.Milliseconds())
		if ms == 0 {
			ms = 1
		}
	}
	s, err := windows.WaitForSingleObject(k.h, ms)
	if err != nil {
		// The event outlives every waiter by construction; a failed wait
		// means backend corruption, not caller misuse.
		panic("pipe: wait on completion event failed: " + err.Error())
	}
	return s == windows.WAIT_OBJECT_0
}

func (k kernelEvent) Signalled() bool { return k.Wait(0) }
