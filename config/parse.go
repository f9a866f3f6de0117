package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Duration time.Duration

// AsDuration 返回标准库 time.Duration 表达。
func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// String 返回时长文本（如 2s、500ms）。
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML 支持从 YAML 中解析时长（如 2s、1.5m、500ms，纯数字按秒处理）。
// 参数：
// - value: YAML 节点
// 返回：
// - error: 解析失败原因
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*d = 0
		return nil
	}
	v := strings.TrimSpace(value.Value)
	if v == "" {
		*d = 0
		return nil
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration: %q", v)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML 将时长编码为可读文本。
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

type ByteSize int64

// Int64 返回字节数的 int64 表达。
func (b ByteSize) Int64() int64 { return int64(b) }

// UnmarshalYAML 支持从 YAML 中解析 ByteSize（如 100MB、2GB、1024B）。
// 参数：
// - value: YAML 节点
// 返回：
// - error: 解析失败原因
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*b = 0
		return nil
	}
	v := strings.TrimSpace(value.Value)
	if v == "" {
		*b = 0
		return nil
	}
	n, err := parseByteSize(v)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// parseByteSize 解析形如 "100MB"/"1.5GB" 的字节数文本。
// 参数：
// - s: 字节数文本
// 返回：
// - int64: 字节数
// - error: 解析失败原因
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		mult = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		mult = 1
		s = strings.TrimSuffix(s, "B")
	}
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return int64(f * float64(mult)), nil
}

// DefaultConfig 返回一份可用的默认配置（用于未提供配置文件或作为缺省值合并）。
func DefaultConfig() Config {
	return Config{
		Bridge: BridgeConfig{
			ListenAddr:       "0.0.0.0:8090",
			AuthTimeout:      Duration(30 * time.Second),
			LiveEmitInterval: Duration(1 * time.Second),
			ShutdownTimeout:  Duration(10 * time.Second),
		},
		TLS: TLSConfig{
			ClientCert:     "/app/certs/client.crt",
			ClientKey:      "/app/certs/client.key",
			CACert:         "/app/certs/ca.crt",
			VerifyHostname: false,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: Duration(2 * time.Second),
			MaxDelay:     Duration(10 * time.Second),
			Factor:       1.5,
			Jitter:       0.1,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "/var/log/lpr-bridge.log",
			MaxSize:  ByteSize(100 * 1024 * 1024),
			MaxAge:   7,
			Compress: true,
		},
	}
}
