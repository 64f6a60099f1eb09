package homedir

import (
	"os"
	"strings"
)

// Expand replaces a leading "~/" with the current user's home directory.
func Expand(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return home + path[1:]
}
