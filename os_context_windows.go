//go:build windows

package faultline

import "runtime"

// collectOSContext describes the host OS. Windows exposes no uname, so only
// the OS name is reported.
func collectOSContext() *OSContext {
	return &OSContext{Name: runtime.GOOS}
}
