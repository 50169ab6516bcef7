package iec62056

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaudRate      = 300
	DefaultModeDBaudRate = 2400
	DefaultTimeout       = 5 * time.Second
	DefaultMsgStartChars = "/?"

	// DefaultMaxFieldLength bounds each of address, value and unit of a data set.
	DefaultMaxFieldLength = 100
)

// CRCPolicy controls verification of the CRC16 trailer some mode D meters
// (DSMR P1 ports) append after the '!' of a message.
type CRCPolicy int

const (
	CRCAuto CRCPolicy = iota
	CRCRequired
	CRCOff
)

func (p CRCPolicy) String() string {
	switch p {
	case CRCAuto:
		return "auto"
	case CRCRequired:
		return "required"
	case CRCOff:
		return "off"
	default:
		return fmt.Sprintf("CRCPolicy(%d)", int(p))
	}
}

// ParseCRCPolicy accepts the names returned by CRCPolicy.String.
func ParseCRCPolicy(s string) (CRCPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return CRCAuto, nil
	case "required":
		return CRCRequired, nil
	case "off":
		return CRCOff, nil
	default:
		return CRCAuto, fmt.Errorf("%w: unknown CRC policy %q", ErrConfig, s)
	}
}

// Settings is the immutable protocol configuration of one connection.
// Build it with NewSettings.
type Settings struct {
	deviceAddress       string
	password            string
	authentication      bool
	baudRate            int
	modeDBaudRate       int
	timeout             time.Duration
	handshake           bool
	baudRateChangeDelay time.Duration
	msgStartChars       string
	maxFieldLength      int
	modeDChecksum       CRCPolicy
}

type SettingsOption func(*Settings)

func WithDeviceAddress(address string) SettingsOption {
	return func(s *Settings) { s.deviceAddress = address }
}

func WithPassword(password string) SettingsOption {
	return func(s *Settings) { s.password = password }
}

// WithAuthentication enables the programming mode password exchange used by
// addressed reads. A password is required.
func WithAuthentication(enabled bool) SettingsOption {
	return func(s *Settings) { s.authentication = enabled }
}

// WithBaudRate sets the initial baud rate of modes A, B and C.
func WithBaudRate(baud int) SettingsOption {
	return func(s *Settings) { s.baudRate = baud }
}

// WithModeDBaudRate sets the baud rate used while listening for mode D messages.
func WithModeDBaudRate(baud int) SettingsOption {
	return func(s *Settings) { s.modeDBaudRate = baud }
}

func WithTimeout(timeout time.Duration) SettingsOption {
	return func(s *Settings) { s.timeout = timeout }
}

func WithHandshake(enabled bool) SettingsOption {
	return func(s *Settings) { s.handshake = enabled }
}

func WithBaudRateChangeDelay(delay time.Duration) SettingsOption {
	return func(s *Settings) { s.baudRateChangeDelay = delay }
}

func WithMsgStartChars(chars string) SettingsOption {
	return func(s *Settings) { s.msgStartChars = chars }
}

func WithMaxFieldLength(n int) SettingsOption {
	return func(s *Settings) { s.maxFieldLength = n }
}

func WithModeDChecksum(policy CRCPolicy) SettingsOption {
	return func(s *Settings) { s.modeDChecksum = policy }
}

// NewSettings applies opts over the defaults and validates the result.
// Contradictory configuration is rejected here, never during a readout.
func NewSettings(opts ...SettingsOption) (Settings, error) {
	s := Settings{
		baudRate:       DefaultBaudRate,
		modeDBaudRate:  DefaultModeDBaudRate,
		timeout:        DefaultTimeout,
		handshake:      true,
		msgStartChars:  DefaultMsgStartChars,
		maxFieldLength: DefaultMaxFieldLength,
		modeDChecksum:  CRCAuto,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.authentication && s.password == "" {
		return fmt.Errorf("%w: authentication requested without password", ErrConfig)
	}
	if !isStandardBaudRate(s.baudRate) {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrConfig, s.baudRate)
	}
	if !isModeDBaudRate(s.modeDBaudRate) {
		return fmt.Errorf("%w: unsupported mode D baud rate %d", ErrConfig, s.modeDBaudRate)
	}
	if s.timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", ErrConfig, s.timeout)
	}
	if s.baudRateChangeDelay < 0 {
		return fmt.Errorf("%w: negative baud rate change delay %s", ErrConfig, s.baudRateChangeDelay)
	}
	if s.msgStartChars == "" {
		return fmt.Errorf("%w: empty message start characters", ErrConfig)
	}
	if strings.ContainsAny(s.deviceAddress, "!\r\n") {
		return fmt.Errorf("%w: device address %q contains a control character", ErrConfig, s.deviceAddress)
	}
	if strings.ContainsAny(s.password, "()") {
		return fmt.Errorf("%w: password contains a parenthesis", ErrConfig)
	}
	if s.maxFieldLength < 1 {
		return fmt.Errorf("%w: max field length %d", ErrConfig, s.maxFieldLength)
	}
	return nil
}

func (s Settings) DeviceAddress() string { return s.deviceAddress }
func (s Settings) Password() string      { return s.password }

// HasAuthentication reports whether addressed reads authenticate first.
func (s Settings) HasAuthentication() bool { return s.authentication }

// BaudRate returns the initial rate for modes A, B and C and the listening
// rate for mode D.
func (s Settings) BaudRate(mode ProtocolMode) int {
	if mode == ModeD {
		return s.modeDBaudRate
	}
	return s.baudRate
}

func (s Settings) Timeout() time.Duration             { return s.timeout }
func (s Settings) HasHandshake() bool                 { return s.handshake }
func (s Settings) BaudRateChangeDelay() time.Duration { return s.baudRateChangeDelay }
func (s Settings) MsgStartChars() string              { return s.msgStartChars }
func (s Settings) MaxFieldLength() int                { return s.maxFieldLength }
func (s Settings) ModeDChecksum() CRCPolicy           { return s.modeDChecksum }

func (s Settings) AcknowledgeMode() AcknowledgeMode {
	if s.authentication {
		return Programming
	}
	return DataReadout
}
