//go:build windows

package trampoline

import (
	"syscall"
	"unsafe"
)

func uintptrOf(p *byte) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// sendSlotFunc and recvSlotFunc are the native-callable signatures
// produced for slot installation: WSAAPI send(SOCKET, const char*, int,
// int) and recv(SOCKET, char*, int, int), both returning int.
func sendSlotFunc(t *Trampoline) uintptr {
	return syscall.NewCallback(func(s uintptr, bufPtr uintptr, length int32, flags int32) uintptr {
		var buf []byte
		if length > 0 {
			buf = unsafe.Slice((*byte)(unsafe.Pointer(bufPtr)), int(length))
		}
		n, _ := t.Send(s, buf, flags)
		return uintptr(uint32(n))
	})
}

func recvSlotFunc(t *Trampoline) uintptr {
	return syscall.NewCallback(func(s uintptr, bufPtr uintptr, length int32, flags int32) uintptr {
		data, n, _ := t.Recv(s, int(length), flags)
		if n > 0 && bufPtr != 0 {
			dst := unsafe.Slice((*byte)(unsafe.Pointer(bufPtr)), int(length))
			copy(dst, data)
		}
		return uintptr(uint32(n))
	})
}

// SendSlotPointer returns the native function pointer to install into the
// SEND slot.
func (t *Trampoline) SendSlotPointer() uintptr { return sendSlotFunc(t) }

// RecvSlotPointer returns the native function pointer to install into the
// RECV slot.
func (t *Trampoline) RecvSlotPointer() uintptr { return recvSlotFunc(t) }
