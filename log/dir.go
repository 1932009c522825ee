package log

import (
	"os"
	"path/filepath"
	"runtime"
)

func getDefaultDir() (string, error) {
	return defaultDir(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

// defaultDir picks the per-user diagnostics directory for goos.
// LOCALAPPDATA on Windows, ~/Library/Logs on macOS, XDG state elsewhere.
func defaultDir(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	switch goos {
	case "windows":
		if base := getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "moodwire", "logs"), nil
		}
		h, err := home()
		if err != nil {
			return "", err
		}
		return filepath.Join(h, "AppData", "Local", "moodwire", "logs"), nil
	case "darwin":
		h, err := home()
		if err != nil {
			return "", err
		}
		return filepath.Join(h, "Library", "Logs", "moodwire"), nil
	}
	if state := getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "moodwire"), nil
	}
	h, err := home()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, ".local", "state", "moodwire"), nil
}
