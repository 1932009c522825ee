//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	// Global hotkeys on macOS must be registered from the main thread.
	mainthread.Init(run)
}
