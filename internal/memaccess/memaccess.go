//go:build windows

// Package memaccess grants temporary write access to committed pages inside
// the host process and performs typed pointer-sized reads/writes.
package memaccess

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PageInfo is the result of a page query.
type PageInfo struct {
	Committed  bool
	Protect    uint32
	Executable bool
}

// Query reports the commit state and current protection of the page
// containing addr.
func Query(addr uintptr) (PageInfo, error) {
	var mbi windows.MemoryBasicInformation
	n, err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		return PageInfo{}, fmt.Errorf("virtualquery 0x%x: %w", addr, err)
	}
	if n == 0 {
		return PageInfo{}, fmt.Errorf("virtualquery 0x%x: zero bytes returned", addr)
	}
	info := PageInfo{
		Committed: mbi.State == windows.MEM_COMMIT,
		Protect:   mbi.Protect,
	}
	switch mbi.Protect &^ windows.PAGE_GUARD &^ windows.PAGE_NOCACHE {
	case windows.PAGE_EXECUTE, windows.PAGE_EXECUTE_READ, windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		info.Executable = true
	}
	return info, nil
}

// IsReadable reports whether addr lies on a committed, non-PAGE_NOACCESS page.
func IsReadable(addr uintptr) bool {
	info, err := Query(addr)
	if err != nil {
		return false
	}
	return info.Committed && info.Protect != windows.PAGE_NOACCESS
}

func isWritableProtect(protect uint32) bool {
	switch protect &^ windows.PAGE_GUARD &^ windows.PAGE_NOCACHE {
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY, windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return true
	}
	return false
}

// ScopedWrite grants PAGE_EXECUTE_READWRITE over the region [addr, addr+size)
// for the lifetime of the guard, restoring the original protection on Close.
// It is a no-op guard (Close does nothing) if the region is already writable.
type ScopedWrite struct {
	addr     uintptr
	size     uintptr
	old      uint32
	restored bool
}

// BeginScopedWrite queries the page at addr and, if it is not already
// writable, flips it to PAGE_EXECUTE_READWRITE. The returned guard must be
// closed to restore the original protection.
func BeginScopedWrite(addr uintptr, size uintptr) (*ScopedWrite, error) {
	info, err := Query(addr)
	if err != nil {
		return nil, err
	}
	if !info.Committed {
		return nil, fmt.Errorf("scoped write 0x%x: page not committed", addr)
	}
	if isWritableProtect(info.Protect) {
		return &ScopedWrite{addr: addr, size: size, old: info.Protect, restored: true}, nil
	}
	var old uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return nil, fmt.Errorf("virtualprotect 0x%x: %w", addr, err)
	}
	return &ScopedWrite{addr: addr, size: size, old: old}, nil
}

// Close restores the page's original protection. Safe to call once; a
// second call is a no-op.
func (g *ScopedWrite) Close() error {
	if g == nil || g.restored {
		return nil
	}
	g.restored = true
	var old uint32
	return windows.VirtualProtect(g.addr, g.size, g.old, &old)
}

// ReadUintptr reads a pointer-sized value at addr.
func ReadUintptr(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// WriteUintptr writes a pointer-sized value at addr. The caller must already
// hold a ScopedWrite covering addr.
func WriteUintptr(addr uintptr, value uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = value
}
