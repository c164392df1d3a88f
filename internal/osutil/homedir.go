package osutil

import "os"

// UserHomeDir is os.UserHomeDir, except that $HOME wins over other sources
// (such as USERPROFILE on Windows) when it is set.
func UserHomeDir() (string, error) {
	if h := os.Getenv("HOME"); h != "" {
		return h, nil
	}
	return os.UserHomeDir()
}
