//go:build !windows

package faultline

import (
	"bytes"
	"runtime"

	"golang.org/x/sys/unix"
)

// collectOSContext describes the host OS via uname. Returns nil only when
// nothing useful could be collected.
func collectOSContext() *OSContext {
	ctx := &OSContext{Name: runtime.GOOS}

	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		return ctx
	}
	ctx.Version = cString(name.Release[:])
	ctx.KernelVersion = cString(name.Version[:])
	return ctx
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
