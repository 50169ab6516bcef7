package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
	"github.com/NotCoffee418/iec62056_meter/pkg/pathing"
	"github.com/sirupsen/logrus"
)

const (
	ModePoll   = "poll"
	ModeListen = "listen"
)

var (
	ActiveInterpreterAPIConfig *InterpreterAPIConfig
	ActiveMeterCollectorConfig *MeterCollectorConfig
)

func DefaultInterpreterAPIConfig() *InterpreterAPIConfig {
	return &InterpreterAPIConfig{
		SerialDevice:   "/dev/ttyUSB0",
		SerialDriver:   "bugst",
		Baudrate:       iec62056.DefaultBaudRate,
		ModeDBaudrate:  iec62056.DefaultModeDBaudRate,
		DataBits:       7,
		Parity:         "E",
		StopBits:       1,
		MsgStartChars:  iec62056.DefaultMsgStartChars,
		Handshake:      true,
		TimeoutMs:      int(iec62056.DefaultTimeout / time.Millisecond),
		MaxFieldLength: iec62056.DefaultMaxFieldLength,
		ModeDChecksum:  iec62056.CRCAuto.String(),
		Addresses:      []string{},
		Mode:           ModePoll,
		PollIntervalMs: 60000,
		ListenAddress:  "0.0.0.0",
		ListenPort:     9039,
		RedisChannel:   "iec62056:readings",
		LogLevel:       "info",
	}
}

func DefaultMeterCollectorConfig() *MeterCollectorConfig {
	return &MeterCollectorConfig{
		InterpreterAPIHost:       "localhost:9039",
		TLSEnabled:               false,
		AggregateIntervalMinutes: 60,
		RetentionDays:            30,
		LogLevel:                 "info",
	}
}

func LoadInterpreterAPIConfig() error {
	cfg := DefaultInterpreterAPIConfig()
	if err := load("interpreter_api.toml", cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ActiveInterpreterAPIConfig = cfg
	return nil
}

func LoadMeterCollectorConfig() error {
	cfg := DefaultMeterCollectorConfig()
	if err := load("meter_collector.toml", cfg); err != nil {
		return err
	}
	if cfg.AggregateIntervalMinutes < 1 {
		return fmt.Errorf("meter_collector.toml: aggregate_interval_minutes must be at least 1")
	}
	ActiveMeterCollectorConfig = cfg
	return nil
}

// load decodes the named file from the config dir over the defaults in cfg.
// A missing file is created with the defaults.
func load(name string, cfg any) error {
	configPath := filepath.Join(pathing.GetConfigDir(), name)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		logrus.Infof("Config %s not found, writing defaults", configPath)
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", configPath, err)
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return fmt.Errorf("write %s: %w", configPath, err)
		}
		return nil
	}

	meta, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		return fmt.Errorf("read %s: %w", configPath, err)
	}
	for _, key := range meta.Undecoded() {
		logrus.Warnf("Ignoring unknown key %q in %s", key.String(), configPath)
	}
	return nil
}

func (c *InterpreterAPIConfig) Validate() error {
	if c.Mode != ModePoll && c.Mode != ModeListen {
		return fmt.Errorf("interpreter_api.toml: mode must be %q or %q, got %q", ModePoll, ModeListen, c.Mode)
	}
	if c.Mode == ModePoll && c.PollIntervalMs < 1 {
		return fmt.Errorf("interpreter_api.toml: poll_interval_ms must be positive")
	}
	if _, err := c.ProtocolSettings(); err != nil {
		return fmt.Errorf("interpreter_api.toml: %w", err)
	}
	return nil
}

// ProtocolSettings folds the protocol part of the config into engine settings.
func (c *InterpreterAPIConfig) ProtocolSettings() (iec62056.Settings, error) {
	checksum, err := iec62056.ParseCRCPolicy(c.ModeDChecksum)
	if err != nil {
		return iec62056.Settings{}, err
	}
	return iec62056.NewSettings(
		iec62056.WithDeviceAddress(c.DeviceAddress),
		iec62056.WithPassword(c.Password),
		iec62056.WithAuthentication(c.Authentication),
		iec62056.WithBaudRate(c.Baudrate),
		iec62056.WithModeDBaudRate(c.ModeDBaudrate),
		iec62056.WithTimeout(time.Duration(c.TimeoutMs)*time.Millisecond),
		iec62056.WithHandshake(c.Handshake),
		iec62056.WithBaudRateChangeDelay(time.Duration(c.BaudrateChangeDelayMs)*time.Millisecond),
		iec62056.WithMsgStartChars(c.MsgStartChars),
		iec62056.WithMaxFieldLength(c.MaxFieldLength),
		iec62056.WithModeDChecksum(checksum),
	)
}

func (c *InterpreterAPIConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ParseLogLevel returns info for an empty level.
func ParseLogLevel(level string) (logrus.Level, error) {
	if strings.TrimSpace(level) == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}
