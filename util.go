package faultline

import (
	"fmt"
	"os"
	"runtime"
)

// Pointer returns a pointer to the given value, for filling optional
// pointer-typed fields in literals.
func Pointer[T any](v T) *T {
	return &v
}

// formatRecovered renders an arbitrary panic value as an event message.
func formatRecovered(v interface{}) string {
	return fmt.Sprintf("%#v", v)
}

func defaultServerName() string {
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return ""
}

// collectRuntimeContext describes the Go runtime executing the program.
func collectRuntimeContext() *RuntimeContext {
	return &RuntimeContext{
		Name:    "go",
		Version: runtime.Version(),
	}
}
