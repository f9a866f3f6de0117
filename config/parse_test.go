package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// TestDurationUnmarshal 验证 Duration 支持从 YAML 文本解析（如 2s、纯数字按秒）。
func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	if err := yaml.Unmarshal([]byte("a: 2s\nb: 1.5\nc: 500ms\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.A.AsDuration() != 2*time.Second {
		t.Fatalf("a=%s", cfg.A)
	}
	if cfg.B.AsDuration() != 1500*time.Millisecond {
		t.Fatalf("b=%s", cfg.B)
	}
	if cfg.C.AsDuration() != 500*time.Millisecond {
		t.Fatalf("c=%s", cfg.C)
	}
	var bad struct {
		A Duration `yaml:"a"`
	}
	if err := yaml.Unmarshal([]byte("a: soon\n"), &bad); err == nil {
		t.Fatalf("expected error")
	}
}

// TestByteSizeUnmarshal 验证 ByteSize 支持从 YAML 文本解析（如 100MB）。
func TestByteSizeUnmarshal(t *testing.T) {
	var cfg struct {
		Size ByteSize `yaml:"size"`
	}
	if err := yaml.Unmarshal([]byte("size: 100MB\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Size.Int64() != 100*1024*1024 {
		t.Fatalf("got=%d", cfg.Size.Int64())
	}
}
