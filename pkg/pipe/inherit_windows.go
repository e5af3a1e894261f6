//go:build windows

package pipe

import (
	"os"

	"golang.org/x/sys/windows"
)

// setInherit marks the handle inheritable for the thread-backend fallback,
// where the pair lives on anonymous os.Pipe handles.
func setInherit(f *os.File, inherit bool) error {
	if !inherit {
		return nil
	}
	return windows.SetHandleInformation(
		windows.Handle(f.Fd()),
		windows.HANDLE_FLAG_INHERIT,
		windows.HANDLE_FLAG_INHERIT,
	)
}
