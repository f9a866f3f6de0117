package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lpr-bridge/broadcast"
	lerrors "lpr-bridge/errors"
	"lpr-bridge/log"
	"lpr-bridge/status"
)

// DeviceSource 提供设备连接状态快照（由 device.Manager 实现）。
type DeviceSource interface {
	DeviceStates() map[string]string
}

// CommandSender 向指定设备下发签名命令（由 device.Manager 实现）。
type CommandSender interface {
	SendCommand(id, commandType, cameraID string, payload map[string]any) error
}

// Server 是大屏端接入层：
// - GET /ws 升级为 websocket，JWT 鉴权后接入广播 Hub
// - GET /status 返回各设备连接状态
// - POST /command 由管理员向设备下发命令
type Server struct {
	hub      *broadcast.Hub
	devices  DeviceSource
	commands CommandSender
	secret   string
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer 创建大屏端接入服务。
// 参数：
// - listenAddr: HTTP 监听地址
// - jwtSecret: 会话令牌签名密钥
// - hub: 广播中心
// - devices: 设备状态来源
// - commands: 命令下发入口
func NewServer(listenAddr, jwtSecret string, hub *broadcast.Hub, devices DeviceSource, commands CommandSender) *Server {
	s := &Server{
		hub:      hub,
		devices:  devices,
		commands: commands,
		secret:   jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 32 * 1024,
			// 大屏端部署在独立域名下，沿用原服务的放开策略
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/command", s.handleCommand)
	s.httpSrv = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe 启动 HTTP 服务（阻塞直至 Shutdown 或出错）。
func (s *Server) ListenAndServe() error {
	log.With(map[string]any{"addr": s.httpSrv.Addr}).Info("大屏端接入服务启动")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭 HTTP 服务。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWS 处理大屏端 websocket 接入：鉴权、建会话、进入请求循环。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	role, err := parseToken(s.secret, tokenFromRequest(r))
	if err != nil {
		log.With(map[string]any{"remote": r.RemoteAddr}).WithError(err).Warn("大屏端鉴权失败")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.With(map[string]any{"remote": r.RemoteAddr}).WithError(err).Warn("websocket 升级失败")
		return
	}

	c := &client{sid: uuid.NewString(), role: role, conn: conn}
	conn.SetReadLimit(maxRequestSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.hub.Attach(c)
	log.With(map[string]any{"session": c.sid, "role": role, "remote": r.RemoteAddr}).Info("大屏端已接入")

	done := make(chan struct{})
	go s.keepalive(c, done)

	s.serveClient(c)

	close(done)
	s.hub.DropSession(c.sid)
	_ = conn.Close()
	log.With(map[string]any{"session": c.sid}).Info("大屏端已断开")
}

// keepalive 周期性发送 ping，直到会话结束。
func (s *Server) keepalive(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// serveClient 是单会话请求循环：解析订阅/退订请求并回执。
// 单条报文非法只回错误不断连，连接级错误退出循环。
func (s *Server) serveClient(c *client) {
	for {
		req, err := c.readRequest()
		if err != nil {
			if lerrors.Is(err, lerrors.CodeBadRequest) {
				c.push(pushMessage{Event: "error", Message: "malformed request"})
				continue
			}
			return
		}
		s.dispatch(c, req)
	}
}

// dispatch 处理一条订阅类请求。
func (s *Server) dispatch(c *client, req clientRequest) {
	switch req.RequestType {
	case "live", "plate", "plates_data":
		kind, err := status.ParseStreamKind(req.RequestType)
		if err != nil {
			c.push(pushMessage{Event: "error", Message: "unknown request_type"})
			return
		}
		s.subscribe(c, kind, req.CameraID)
	case "unsubscribe":
		kind, err := status.ParseStreamKind(req.DataType)
		if err != nil {
			c.push(pushMessage{Event: "error", Message: "unknown data_type"})
			return
		}
		if req.CameraID == "" {
			c.push(pushMessage{Event: "error", Message: "cameraID is required"})
			return
		}
		s.hub.Unsubscribe(c.sid, kind, req.CameraID)
		c.push(pushMessage{Event: "request_acknowledged", Status: "unsubscribed", DataType: kind.String()})
	default:
		c.push(pushMessage{Event: "error", Message: "unknown request_type"})
	}
}

// subscribe 执行订阅并回执；权限不足或参数缺失回错误消息。
func (s *Server) subscribe(c *client, kind status.StreamKind, cameraID string) {
	if cameraID == "" {
		c.push(pushMessage{Event: "error", Message: "cameraID is required"})
		return
	}
	if err := s.hub.Subscribe(c.sid, kind, cameraID); err != nil {
		if lerrors.Is(err, lerrors.CodeAuthFailed) {
			c.push(pushMessage{Event: "error", Message: "Unauthorized to access this data"})
		} else {
			c.push(pushMessage{Event: "error", Message: "subscription failed"})
		}
		return
	}
	log.With(map[string]any{"session": c.sid, "stream": kind, "camera": cameraID}).Info("大屏端订阅成功")
	c.push(pushMessage{Event: "request_acknowledged", Status: "subscribed", DataType: kind.String()})
}

// handleStatus 返回各设备连接状态快照。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"devices": s.devices.DeviceStates(),
	})
}

// commandRequest 是命令下发接口的请求体。
type commandRequest struct {
	DeviceID    string         `json:"device_id"`
	CommandType string         `json:"commandType"`
	CameraID    string         `json:"camera_id"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// handleCommand 处理管理员的命令下发请求。
// 规则：
// - 仅 admin 角色可调用
// - 设备未登记/未就绪返回 503，由调用方决定是否重试
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	role, err := parseToken(s.secret, tokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if role != status.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" || req.CommandType == "" {
		http.Error(w, "device_id and commandType are required", http.StatusBadRequest)
		return
	}

	if err := s.commands.SendCommand(req.DeviceID, req.CommandType, req.CameraID, req.Payload); err != nil {
		log.With(map[string]any{"device": req.DeviceID, "command": req.CommandType}).WithError(err).Warn("命令下发失败")
		switch lerrors.Code(err) {
		case lerrors.CodeNotConnected:
			http.Error(w, "device not connected", http.StatusServiceUnavailable)
		case lerrors.CodeBadRequest:
			http.Error(w, "invalid command", http.StatusBadRequest)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "sent", "device_id": req.DeviceID})
}
