//go:build windows

// Package console toggles a Win32 console window for the host process,
// matching the original's showConsole setting.
package console

import "golang.org/x/sys/windows"

// Alloc attaches a new console to the process, for when the operator wants
// a visible window for log output.
func Alloc() error {
	return windows.AllocConsole()
}

// Free detaches the process's console.
func Free() error {
	return windows.FreeConsole()
}
