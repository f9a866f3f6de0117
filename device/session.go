package device

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lpr-bridge/broadcast"
	"lpr-bridge/command"
	lerrors "lpr-bridge/errors"
	"lpr-bridge/log"
	"lpr-bridge/status"
	"lpr-bridge/wire"

	"github.com/google/uuid"
)

// Sink 接收会话解码并重整后的设备事件（由广播 Hub 实现）。
type Sink interface {
	Publish(ev broadcast.Event)
}

// Session 是到单台设备的一条 TLS 连接。
// 状态机：Connecting -> Authenticating -> Ready -> Closed。
// 规则：
// - 进入 Authenticating 立即发送认证消息并记录其 messageId
// - 只有 replyTo 等于该 id 的 acknowledge 能把会话推进到 Ready
// - Ready 之前收到的数据帧只记日志不转发
// - 任何传输错误或主动关闭都进入 Closed，且只通知监督器一次
type Session struct {
	deviceID string
	token    string
	conn     net.Conn
	sink     Sink

	authTimeout time.Duration

	mu     sync.Mutex
	state  status.SessionStatus
	authID string

	unknownCount atomic.Int64

	sendMu sync.Mutex

	authTimer *time.Timer
	onClosed  func(err error)
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession 创建设备会话（初始状态 Connecting，由 Start 推进）。
// 参数：
// - deviceID: 设备 ID
// - token: 设备共享认证令牌
// - conn: 已建立的传输连接
// - sink: 事件接收方
// - authTimeout: 等待认证应答的超时时间
// - onClosed: 会话关闭回调（至多调用一次，可为 nil）
func NewSession(deviceID, token string, conn net.Conn, sink Sink, authTimeout time.Duration, onClosed func(error)) *Session {
	return &Session{
		deviceID:    deviceID,
		token:       token,
		conn:        conn,
		sink:        sink,
		authTimeout: authTimeout,
		state:       status.SessionConnecting,
		onClosed:    onClosed,
		done:        make(chan struct{}),
	}
}

// Start 进入 Authenticating：发送认证消息、启动握手超时计时与读循环。
func (s *Session) Start() {
	s.mu.Lock()
	s.state = status.SessionAuthenticating
	s.authID = uuid.NewString()
	authID := s.authID
	s.mu.Unlock()

	env, err := wire.NewEnvelope(authID, wire.TypeAuthentication, wire.AuthBody{Token: s.token})
	if err != nil {
		s.close(err)
		return
	}
	if err := s.send(env); err != nil {
		return
	}
	log.With(map[string]any{"device": s.deviceID, "auth_id": authID}).Info("认证消息已发送")

	t := time.AfterFunc(s.authTimeout, func() {
		if s.State() != status.SessionReady {
			s.close(lerrors.New(lerrors.CodeAuthFailed, "authentication acknowledge timeout"))
		}
	})
	s.mu.Lock()
	if s.state == status.SessionClosed {
		s.mu.Unlock()
		t.Stop()
		return
	}
	s.authTimer = t
	s.mu.Unlock()

	go s.readLoop()
}

// State 返回会话当前状态。
func (s *Session) State() status.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UnknownCount 返回累计收到的未知类型消息数量。
func (s *Session) UnknownCount() int64 { return s.unknownCount.Load() }

// readLoop 持续读取连接并把字节流交给 Framer 分帧。
// 单帧解析失败只丢弃该帧；读错误关闭会话并触发监督器重连。
func (s *Session) readLoop() {
	buf := acquireReadBuf()
	defer releaseReadBuf(buf)

	var framer wire.Framer
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				s.handleFrame(frame)
			}
		}
		if err != nil {
			s.close(err)
			return
		}
	}
}

// handleFrame 解析单帧并按消息类型分发。
func (s *Session) handleFrame(frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		log.With(map[string]any{"device": s.deviceID}).WithError(err).Warn("消息帧解析失败，已丢弃")
		return
	}

	switch env.MessageType {
	case wire.TypeAcknowledge:
		s.handleAck(env)
	case wire.TypeCommandResponse:
		log.With(map[string]any{"device": s.deviceID, "messageId": env.MessageID}).Info("收到命令响应")
	case wire.TypePlatesData:
		if s.State() != status.SessionReady {
			log.With(map[string]any{"device": s.deviceID, "type": string(env.MessageType)}).Warn("未认证链路的数据帧已忽略")
			return
		}
		var body wire.PlatesBody
		if err := wire.DecodeBody(env, &body); err != nil {
			log.With(map[string]any{"device": s.deviceID}).WithError(err).Warn("plates_data 消息体非法，已丢弃")
			return
		}
		s.sink.Publish(broadcast.NewPlatesEvent(body))
	case wire.TypeLive:
		if s.State() != status.SessionReady {
			log.With(map[string]any{"device": s.deviceID, "type": string(env.MessageType)}).Warn("未认证链路的数据帧已忽略")
			return
		}
		var body wire.LiveBody
		if err := wire.DecodeBody(env, &body); err != nil {
			log.With(map[string]any{"device": s.deviceID}).WithError(err).Warn("live 消息体非法，已丢弃")
			return
		}
		s.sink.Publish(broadcast.NewLiveEvent(body))
	default:
		n := s.unknownCount.Add(1)
		log.With(map[string]any{"device": s.deviceID, "type": string(env.MessageType), "count": n}).Warn("未知消息类型，已丢弃")
	}
}

// handleAck 处理 acknowledge：
// - 仅当处于 Authenticating 且 replyTo 命中握手 id 时推进到 Ready
// - 其余应答（命令回执等）只记录日志
func (s *Session) handleAck(env wire.Envelope) {
	var body wire.AckBody
	if err := wire.DecodeBody(env, &body); err != nil {
		log.With(map[string]any{"device": s.deviceID}).WithError(err).Warn("acknowledge 消息体非法，已丢弃")
		return
	}

	s.mu.Lock()
	if s.state == status.SessionAuthenticating && body.ReplyTo == s.authID {
		s.state = status.SessionReady
		t := s.authTimer
		s.mu.Unlock()
		if t != nil {
			t.Stop()
		}
		log.With(map[string]any{"device": s.deviceID}).Info("设备认证成功")
		return
	}
	s.mu.Unlock()
	log.With(map[string]any{"device": s.deviceID, "replyTo": body.ReplyTo}).Info("收到普通应答")
}

// SendCommand 对命令签名并发送到设备。
// 参数：
// - signer: 命令签名器
// - data: 命令数据
// 返回：
// - error: 会话未就绪返回 CodeNotConnected（不会向可能已死的连接写入）
func (s *Session) SendCommand(signer *command.Signer, data any) error {
	if s.State() != status.SessionReady {
		return lerrors.New(lerrors.CodeNotConnected, "device session not authenticated")
	}
	env, err := signer.Sign(data)
	if err != nil {
		return err
	}
	return s.send(env)
}

// send 编码并写入一帧（串行化写入；写失败关闭会话）。
func (s *Session) send(env wire.Envelope) error {
	frame, err := wire.Encode(env)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := s.conn.Write(frame); err != nil {
		s.close(err)
		return lerrors.Wrap(lerrors.CodeUnavailable, "write frame", err)
	}
	_ = s.conn.SetWriteDeadline(time.Time{})
	return nil
}

// Close 主动关闭会话（幂等）。
func (s *Session) Close() { s.close(nil) }

// close 进入 Closed 状态并通知监督器（至多一次）。
func (s *Session) close(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = status.SessionClosed
		t := s.authTimer
		s.mu.Unlock()
		if t != nil {
			t.Stop()
		}
		close(s.done)
		_ = s.conn.Close()

		entry := log.With(map[string]any{"device": s.deviceID})
		if cause != nil {
			entry.WithError(cause).Warn("设备会话已关闭")
		} else {
			entry.Info("设备会话已关闭")
		}
		if s.onClosed != nil {
			s.onClosed(cause)
		}
	})
}
