//go:build !windows

package pipe

import "go.uber.org/zap"

// nativeState has no fields off Windows; the overlapped backend does not
// exist here.
type nativeState struct{}

// connectNative reports capability absence: overlapped named pipes only
// exist on Windows, so pairs on every other platform fall back to the
// thread backend.
func connectNative(_, _ *endpoint, _, _ EndpointConfig, _ func() string, _ *zap.Logger) error {
	return errNativeUnsupported
}

func (e *endpoint) nativeHandle() uintptr { return InvalidHandle }

func (e *endpoint) nativeSignal() Signal { return nil }

func (e *endpoint) closeNative() error { return nil }

func (e *endpoint) initiateNativeRead() error {
	panic("pipe: overlapped backend unavailable")
}

func (e *endpoint) resultNativeRead(bool) ([]byte, error) {
	panic("pipe: overlapped backend unavailable")
}

func (e *endpoint) initiateNativeWrite(int) error {
	panic("pipe: overlapped backend unavailable")
}

func (e *endpoint) resultNativeWrite(bool) (int, error) {
	panic("pipe: overlapped backend unavailable")
}
