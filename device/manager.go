package device

import (
	"time"

	"lpr-bridge/command"
	"lpr-bridge/config"
	lerrors "lpr-bridge/errors"
	"lpr-bridge/log"
)

// Manager 是设备侧子系统的操作入口：登记/摘除设备、向设备下发命令。
type Manager struct {
	tlsCfg      config.TLSConfig
	rc          config.ReconnectConfig
	authTimeout time.Duration
	signer      *command.Signer
	sink        Sink
	reg         *Registry
}

// NewManager 创建设备管理器。
// 参数：
// - cfg: 全局配置（TLS、重连、握手超时）
// - signer: 命令签名器
// - sink: 事件接收方（广播 Hub）
func NewManager(cfg config.Config, signer *command.Signer, sink Sink) *Manager {
	return &Manager{
		tlsCfg:      cfg.TLS,
		rc:          cfg.Reconnect,
		authTimeout: cfg.Bridge.AuthTimeout.AsDuration(),
		signer:      signer,
		sink:        sink,
		reg:         NewRegistry(),
	}
}

// Registry 返回底层注册表（观测用）。
func (m *Manager) Registry() *Registry { return m.reg }

// RegisterDevice 登记一台设备并启动其连接监督器。
// 规则：
// - TLS 材料在登记时校验一次，配置错误只影响该设备，不影响其余设备
// - 同 ID 重复登记会先停掉旧监督器再替换，保证同一设备不存在两条活动连接
// 参数：
// - ep: 设备端点
// 返回：
// - error: 端点字段缺失返回 CodeBadRequest；TLS 材料非法返回 CodeConfig
func (m *Manager) RegisterDevice(ep config.DeviceConfig) error {
	if ep.ID == "" || ep.Host == "" || ep.Port <= 0 || ep.Port > 65535 || ep.AuthToken == "" {
		return lerrors.New(lerrors.CodeBadRequest, "invalid device endpoint")
	}
	if _, err := NewTLSConfig(m.tlsCfg); err != nil {
		return err
	}

	if old, ok := m.reg.Get(ep.ID); ok {
		old.Stop()
	}
	sup := NewSupervisor(ep, m.tlsCfg, m.rc, m.authTimeout, m.sink)
	m.reg.Put(ep.ID, sup)
	sup.Start()

	log.With(map[string]any{"device": ep.ID, "host": ep.Host, "port": ep.Port}).Info("设备已登记")
	return nil
}

// RemoveDevice 摘除设备：取消待执行的重连并断开当前连接（幂等）。
// 参数：
// - id: 设备 ID
func (m *Manager) RemoveDevice(id string) {
	if sup := m.reg.Remove(id); sup != nil {
		sup.Stop()
		log.With(map[string]any{"device": id}).Info("设备已摘除")
	}
}

// SendCommand 向设备下发签名命令。
// 参数：
// - id: 设备 ID
// - commandType: 命令类型
// - cameraID: 目标摄像头 ID
// - payload: 附加命令字段（可为 nil）
// 返回：
// - error: 设备未登记/未连接/未认证时返回 CodeNotConnected，调用方决定是否重试
func (m *Manager) SendCommand(id, commandType, cameraID string, payload map[string]any) error {
	sup, ok := m.reg.Get(id)
	if !ok {
		return lerrors.New(lerrors.CodeNotConnected, "device not registered")
	}
	sess := sup.Session()
	if sess == nil {
		return lerrors.New(lerrors.CodeNotConnected, "device not connected")
	}

	data := map[string]any{
		"commandType": commandType,
		"camera_id":   cameraID,
	}
	for k, v := range payload {
		if k == "commandType" || k == "camera_id" {
			continue
		}
		data[k] = v
	}
	return sess.SendCommand(m.signer, data)
}

// DeviceStates 返回每台已登记设备的连接状态快照。
func (m *Manager) DeviceStates() map[string]string {
	all := m.reg.All()
	out := make(map[string]string, len(all))
	for id, sup := range all {
		out[id] = sup.Status().String()
	}
	return out
}

// StopAll 停止全部设备监督器（进程退出时调用）。
func (m *Manager) StopAll() {
	for id, sup := range m.reg.All() {
		sup.Stop()
		m.reg.Remove(id)
	}
}
