package config

import (
	"os"
	"path/filepath"
)

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

func searchPaths() []string {
	paths := []string{"."}
	if xdg := XDGConfigHome(); xdg != "" {
		paths = append(paths, filepath.Join(xdg, appName))
	}
	return append(paths, "/etc")
}
