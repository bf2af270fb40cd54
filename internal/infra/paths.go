package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const (
	AppName = "drocd"
)

// GetWorkspaceDir returns the root directory for runtime data.
// A local "_workspace" directory wins when present.
func GetWorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		// XDG_DATA_HOME or ~/.local/share
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			baseDir = dataHome
		} else {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}
	return filepath.Join(baseDir, AppName)
}

// ResolveDataPath anchors a relative storage path under the workspace dir.
func ResolveDataPath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// CreateLockFile creates workDir/instance.lock exclusively so only one engine
// writes the state database. The returned func removes the lock.
func CreateLockFile(workDir string) (func(), error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	f.Close()
	if werr != nil {
		os.Remove(lockPath)
		return nil, werr
	}

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath finds config.yaml in ./configs, then the OS config dir.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	// LoadConfig reports the missing file
	return defaultPath
}
