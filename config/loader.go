package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load 从 YAML 文件读取并解析配置，并做基础校验与默认值补齐。
// 参数：
// - path: 配置文件路径
// 返回：
// - Config: 合并默认值后的配置
// - error: 读取/解析/校验失败原因
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验配置字段合法性（监听地址、超时、重连参数、设备列表与日志输出）。
// 参数：
// - cfg: 待校验配置
// 返回：
// - error: 校验失败原因
func Validate(cfg Config) error {
	if cfg.Bridge.ListenAddr == "" {
		return fmt.Errorf("bridge.listen_addr is required")
	}
	if cfg.Bridge.AuthTimeout <= 0 {
		return fmt.Errorf("invalid bridge.auth_timeout: %s", cfg.Bridge.AuthTimeout)
	}
	if cfg.Bridge.LiveEmitInterval <= 0 {
		return fmt.Errorf("invalid bridge.live_emit_interval: %s", cfg.Bridge.LiveEmitInterval)
	}
	if cfg.Bridge.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid bridge.shutdown_timeout: %s", cfg.Bridge.ShutdownTimeout)
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("invalid reconnect.initial_delay: %s", cfg.Reconnect.InitialDelay)
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay must be >= initial_delay")
	}
	if cfg.Reconnect.Factor < 1 {
		return fmt.Errorf("invalid reconnect.factor: %v", cfg.Reconnect.Factor)
	}
	if cfg.Reconnect.Jitter < 0 || cfg.Reconnect.Jitter >= 1 {
		return fmt.Errorf("invalid reconnect.jitter: %v", cfg.Reconnect.Jitter)
	}
	seen := make(map[string]struct{}, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d].id is required", i)
		}
		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("duplicate device id: %q", d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Host == "" {
			return fmt.Errorf("devices[%d].host is required", i)
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("devices[%d].port invalid: %d", i, d.Port)
		}
		if d.AuthToken == "" {
			return fmt.Errorf("devices[%d].auth_token is required", i)
		}
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output=file")
	}
	return nil
}
