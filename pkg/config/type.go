package config

type MeterCollectorConfig struct {
	InterpreterAPIHost       string `toml:"interpreter_api_host"`
	TLSEnabled               bool   `toml:"tls_enabled"`
	AggregateIntervalMinutes int    `toml:"aggregate_interval_minutes"`
	// 0 keeps raw data sets forever
	RetentionDays int    `toml:"retention_days"`
	LogLevel      string `toml:"log_level"`
}

type InterpreterAPIConfig struct {
	SerialDevice string `toml:"serial_device"`
	// bugst or jacobsa
	SerialDriver  string `toml:"serial_driver"`
	Baudrate      int    `toml:"baudrate"`
	ModeDBaudrate int    `toml:"mode_d_baudrate"`
	DataBits      int    `toml:"data_bits"`
	Parity        string `toml:"parity"`
	StopBits      int    `toml:"stop_bits"`

	DeviceAddress         string   `toml:"device_address"`
	Password              string   `toml:"password"`
	Authentication        bool     `toml:"authentication"`
	MsgStartChars         string   `toml:"msg_start_chars"`
	Handshake             bool     `toml:"handshake"`
	BaudrateChangeDelayMs int      `toml:"baudrate_change_delay_ms"`
	TimeoutMs             int      `toml:"timeout_ms"`
	MaxFieldLength        int      `toml:"max_field_length"`
	ModeDChecksum         string   `toml:"mode_d_checksum"`
	Addresses             []string `toml:"addresses"`

	// poll asks the meter every PollIntervalMs, listen receives mode D pushes
	Mode           string `toml:"mode"`
	PollIntervalMs int    `toml:"poll_interval_ms"`

	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`

	// Readings are published on RedisChannel when RedisAddr is set
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`

	LogLevel string `toml:"log_level"`
}
