package pathing

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	ConfigDirEnv = "IEC62056_CONFIG_DIR"
	DataDirEnv   = "IEC62056_DATA_DIR"
)

// EnsureDirs creates the config and data directories when missing.
func EnsureDirs() error {
	for _, dir := range []string{GetConfigDir(), GetDataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "iec62056-meter.db")
}

func GetDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	return "/var/lib/iec62056_meter"
}

func GetConfigDir() string {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir
	}
	return "/etc/iec62056_meter"
}
