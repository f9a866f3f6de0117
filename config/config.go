package config

type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	TLS       TLSConfig       `yaml:"tls"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type BridgeConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	JWTSecret        string   `yaml:"jwt_secret"`
	HMACSecret       string   `yaml:"hmac_secret"`
	AuthTimeout      Duration `yaml:"auth_timeout"`
	LiveEmitInterval Duration `yaml:"live_emit_interval"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`
}

type TLSConfig struct {
	ClientCert     string `yaml:"client_cert"`
	ClientKey      string `yaml:"client_key"`
	CACert         string `yaml:"ca_cert"`
	VerifyHostname bool   `yaml:"verify_hostname"`
}

type ReconnectConfig struct {
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Factor       float64  `yaml:"factor"`
	Jitter       float64  `yaml:"jitter"`
}

type DeviceConfig struct {
	ID        string `yaml:"id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type LoggingConfig struct {
	Level    string   `yaml:"level"`
	Format   string   `yaml:"format"`
	Output   string   `yaml:"output"`
	FilePath string   `yaml:"file_path"`
	MaxSize  ByteSize `yaml:"max_size"`
	MaxAge   int      `yaml:"max_age"`
	Compress bool     `yaml:"compress"`
}
