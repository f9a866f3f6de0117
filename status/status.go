package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

type SessionStatus string

const (
	SessionConnecting     SessionStatus = "Connecting"
	SessionAuthenticating SessionStatus = "Authenticating"
	SessionReady          SessionStatus = "Ready"
	SessionClosed         SessionStatus = "Closed"
)

// String 返回设备会话状态文本。
func (s SessionStatus) String() string { return string(s) }

// ParseSessionStatus 将文本解析为 SessionStatus。
// 参数：
// - v: 状态文本（Connecting/Authenticating/Ready/Closed）
// 返回：
// - SessionStatus: 解析结果
// - error: 未知状态时返回错误
func ParseSessionStatus(v string) (SessionStatus, error) {
	switch strings.TrimSpace(v) {
	case string(SessionConnecting):
		return SessionConnecting, nil
	case string(SessionAuthenticating):
		return SessionAuthenticating, nil
	case string(SessionReady):
		return SessionReady, nil
	case string(SessionClosed):
		return SessionClosed, nil
	default:
		return "", fmt.Errorf("unknown SessionStatus: %q", v)
	}
}

// MarshalJSON 将 SessionStatus 编码为 JSON 字符串。
func (s SessionStatus) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 SessionStatus。
func (s *SessionStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseSessionStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type StreamKind string

const (
	StreamLive   StreamKind = "live"
	StreamPlates StreamKind = "plates_data"
)

// String 返回订阅流类型文本。
func (s StreamKind) String() string { return string(s) }

// ParseStreamKind 将文本解析为 StreamKind。
// 参数：
// - v: 流类型文本（live/plates_data，兼容前端的 plate 简写）
// 返回：
// - StreamKind: 解析结果
// - error: 未知流类型时返回错误
func ParseStreamKind(v string) (StreamKind, error) {
	switch strings.TrimSpace(v) {
	case string(StreamLive):
		return StreamLive, nil
	case string(StreamPlates), "plate":
		return StreamPlates, nil
	default:
		return "", fmt.Errorf("unknown StreamKind: %q", v)
	}
}

// MarshalJSON 将 StreamKind 编码为 JSON 字符串。
func (s StreamKind) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 StreamKind。
func (s *StreamKind) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseStreamKind(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// String 返回角色文本。
func (r Role) String() string { return string(r) }

// ParseRole 将文本解析为 Role。
// 参数：
// - v: 角色文本（admin/operator/viewer）
// 返回：
// - Role: 解析结果
// - error: 未知角色时返回错误
func ParseRole(v string) (Role, error) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case string(RoleAdmin):
		return RoleAdmin, nil
	case string(RoleOperator):
		return RoleOperator, nil
	case string(RoleViewer):
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown Role: %q", v)
	}
}

// MarshalJSON 将 Role 编码为 JSON 字符串。
func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(string(r)) }

// UnmarshalJSON 从 JSON 字符串解码为 Role。
func (r *Role) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseRole(v)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
