package faultline

import (
	"runtime/debug"
	"sync"
)

var (
	modulesOnce   sync.Once
	cachedModules map[string]string
)

// collectModules lists the main module and its dependencies with their
// versions, read once from the build info embedded in the binary.
func collectModules() map[string]string {
	modulesOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		modules := make(map[string]string, len(info.Deps)+1)
		if info.Main.Path != "" {
			modules[info.Main.Path] = info.Main.Version
		}
		for _, dep := range info.Deps {
			modules[dep.Path] = dep.Version
		}
		cachedModules = modules
	})
	return cachedModules
}
