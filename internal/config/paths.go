package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/minmaxflow/mini-kode/internal/permission"
)

const appName = "mini-kode"

// Paths contains the standard per-user paths.
type Paths struct {
	Config string // ~/.config/mini-kode
	State  string // ~/.local/state/mini-kode
}

// GetPaths returns the standard per-user paths, honoring the XDG variables.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), appName),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), appName),
	}
}

// LogPath returns the default log file location.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "minikode.log")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "config.jsonc")
}

// ProjectDir returns the project's private directory.
func ProjectDir(directory string) string {
	return filepath.Join(directory, permission.ProjectDirName)
}

// ProjectConfigPath returns the path to the project config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(ProjectDir(directory), "config.jsonc")
}

// GrantsPath returns the path to the project grant file.
func GrantsPath(directory string) string {
	return permission.GrantsFile(directory)
}
