//go:build windows

package checksum

import "syscall"

// callN invokes the native routine at addr with up to four pointer-sized
// arguments using the platform's default calling convention for exported
// routines, matching the leaf contract's signature.
func callN(addr uintptr, args ...uintptr) (r1, r2 uintptr, lastErr error) {
	return syscall.SyscallN(addr, args...)
}
