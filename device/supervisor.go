package device

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"lpr-bridge/config"
	"lpr-bridge/log"
	"lpr-bridge/status"
)

// Supervisor 负责单台设备连接的全生命周期：
// - 构造后立即发起首次连接
// - 连接失败或断开后按指数退避（带抖动）排定重连，同一次掉线只排定一次
// - 每次尝试都重建 TLS 上下文与 Session，绝不复用旧状态
// - 除显式 Stop 外没有终态，重试无限进行
type Supervisor struct {
	endpoint    config.DeviceConfig
	rc          config.ReconnectConfig
	authTimeout time.Duration
	sink        Sink
	dial        dialFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	session      *Session
	currentDelay time.Duration
	reconnecting bool
	retryTimer   *time.Timer
}

// NewSupervisor 创建设备连接监督器（使用 TLS 拨号）。
// 参数：
// - ep: 设备端点
// - tlsCfg: TLS 证书材料路径
// - rc: 重连退避参数
// - authTimeout: 握手应答超时
// - sink: 事件接收方
func NewSupervisor(ep config.DeviceConfig, tlsCfg config.TLSConfig, rc config.ReconnectConfig, authTimeout time.Duration, sink Sink) *Supervisor {
	return newSupervisor(ep, rc, authTimeout, sink, tlsDialFunc(tlsCfg))
}

// newSupervisor 以自定义拨号函数创建监督器（测试注入用）。
func newSupervisor(ep config.DeviceConfig, rc config.ReconnectConfig, authTimeout time.Duration, sink Sink, dial dialFunc) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		endpoint:     ep,
		rc:           rc,
		authTimeout:  authTimeout,
		sink:         sink,
		dial:         dial,
		ctx:          ctx,
		cancel:       cancel,
		currentDelay: rc.InitialDelay.AsDuration(),
	}
}

// Start 发起首次连接（异步）。
func (s *Supervisor) Start() { go s.connect() }

// Stop 取消待执行的重连并关闭当前会话（幂等）。
func (s *Supervisor) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Session 返回当前会话（可能为 nil 或未就绪）。
func (s *Supervisor) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Status 返回当前连接状态（无会话时视为仍在 Connecting，已停止则为 Closed）。
func (s *Supervisor) Status() status.SessionStatus {
	if s.ctx.Err() != nil {
		return status.SessionClosed
	}
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return status.SessionConnecting
	}
	st := sess.State()
	if st == status.SessionClosed {
		// 会话已断开但监督器仍在重试
		return status.SessionConnecting
	}
	return st
}

// connect 执行一次连接尝试：成功则重置退避并启动新 Session，失败则排定重连。
func (s *Supervisor) connect() {
	if s.ctx.Err() != nil {
		return
	}

	conn, err := s.dial(s.ctx, s.endpoint)
	if err != nil {
		log.With(map[string]any{
			"device": s.endpoint.ID,
			"host":   s.endpoint.Host,
			"port":   s.endpoint.Port,
		}).WithError(err).Warn("连接设备失败")
		s.scheduleReconnect()
		return
	}

	sess := NewSession(s.endpoint.ID, s.endpoint.AuthToken, conn, s.sink, s.authTimeout, s.onSessionClosed)

	s.mu.Lock()
	s.session = sess
	s.currentDelay = s.rc.InitialDelay.AsDuration()
	s.reconnecting = false
	s.mu.Unlock()

	log.With(map[string]any{"device": s.endpoint.ID, "peer": conn.RemoteAddr().String()}).Info("已连接设备")
	sess.Start()
}

// onSessionClosed 响应会话关闭：监督器未停止时排定一次重连。
func (s *Supervisor) onSessionClosed(cause error) {
	if s.ctx.Err() != nil {
		return
	}
	entry := log.With(map[string]any{"device": s.endpoint.ID})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("设备连接断开，准备重连")
	s.scheduleReconnect()
}

// scheduleReconnect 排定一次延迟重连。
// 规则：
// - reconnecting 标志保证同一次掉线的并发通知只排定一次
// - 第 N 次连续失败后的等待时间为 min(initial*factor^N, max)，并叠加抖动
func (s *Supervisor) scheduleReconnect() {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true

	next := time.Duration(float64(s.currentDelay) * s.rc.Factor)
	if maxDelay := s.rc.MaxDelay.AsDuration(); next > maxDelay {
		next = maxDelay
	}
	s.currentDelay = next
	wait := withJitter(next, s.rc.Jitter)

	s.retryTimer = time.AfterFunc(wait, func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
		s.connect()
	})
	s.mu.Unlock()

	log.With(map[string]any{"device": s.endpoint.ID, "delay_ms": wait.Milliseconds()}).Info("已排定重连")
}

// withJitter 为延迟叠加 ±frac 比例的随机抖动。
// 参数：
// - d: 基准延迟
// - frac: 抖动比例（0 表示不抖动）
func withJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	f := 1 + frac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
