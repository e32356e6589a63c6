//go:build windows

// Package addr resolves hex address strings supplied by configuration into
// usable pointers, accepting either absolute addresses or offsets relative
// to the host module's load base.
package addr

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"

	"github.com/ehrlich-b/arkanrelay/internal/hexlog"
	"github.com/ehrlich-b/arkanrelay/internal/logger"
	"github.com/ehrlich-b/arkanrelay/internal/memaccess"
)

// ParseHex parses a hex string with or without a "0x"/"0X" prefix.
func ParseHex(s string) (uintptr, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return 0, fmt.Errorf("empty hex address")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", s, err)
	}
	return uintptr(v), nil
}

// Resolver resolves addresses against the host's main module.
type Resolver struct {
	base uintptr
}

// NewResolver captures the load base of the calling process's main module.
func NewResolver() (*Resolver, error) {
	h, err := windows.GetModuleHandle("")
	if err != nil {
		return nil, fmt.Errorf("get module handle: %w", err)
	}
	return &Resolver{base: uintptr(h)}, nil
}

// Resolve returns the address whose page is committed: raw first, then
// raw+base. If neither is committed, raw is returned unchanged so the
// caller can still attempt to use it (and fail with a clearer error later).
func (r *Resolver) Resolve(raw uintptr) uintptr {
	if memaccess.IsReadable(raw) {
		return raw
	}
	withBase := raw + r.base
	if memaccess.IsReadable(withBase) {
		return withBase
	}
	return raw
}

// ResolveHex parses and resolves in one step.
func (r *Resolver) ResolveHex(s string) (uintptr, error) {
	raw, err := ParseHex(s)
	if err != nil {
		return 0, err
	}
	return r.Resolve(raw), nil
}

func protectName(p uint32) string {
	switch p &^ windows.PAGE_GUARD &^ windows.PAGE_NOCACHE {
	case windows.PAGE_NOACCESS:
		return "NOACCESS"
	case windows.PAGE_READONLY:
		return "READONLY"
	case windows.PAGE_READWRITE:
		return "READWRITE"
	case windows.PAGE_WRITECOPY:
		return "WRITECOPY"
	case windows.PAGE_EXECUTE:
		return "EXECUTE"
	case windows.PAGE_EXECUTE_READ:
		return "EXECUTE_READ"
	case windows.PAGE_EXECUTE_READWRITE:
		return "EXECUTE_READWRITE"
	case windows.PAGE_EXECUTE_WRITECOPY:
		return "EXECUTE_WRITECOPY"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", p)
	}
}

// LogPages emits a diagnostic line per named address describing its
// commit state and current protection, for startup troubleshooting.
func (r *Resolver) LogPages(named map[string]uintptr) {
	for name, a := range named {
		info, err := memaccess.Query(a)
		if err != nil {
			logger.App.Warn("page query failed", "name", name, "addr", hexlog.Ptr(a), "err", err)
			continue
		}
		logger.App.Info("resolved address",
			"name", name,
			"addr", hexlog.Ptr(a),
			"committed", info.Committed,
			"protect", protectName(info.Protect),
			"exec", info.Executable,
		)
	}
}
