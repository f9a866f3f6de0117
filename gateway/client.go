package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lpr-bridge/broadcast"
	lerrors "lpr-bridge/errors"
	"lpr-bridge/log"
	"lpr-bridge/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	// 浏览器侧只发订阅类小报文
	maxRequestSize = 4 * 1024
)

// clientRequest 是大屏端发来的订阅类请求。
type clientRequest struct {
	RequestType string `json:"request_type"`
	DataType    string `json:"data_type,omitempty"`
	CameraID    string `json:"cameraID"`
}

// pushMessage 是服务端主动下发的控制消息（应答或错误）。
type pushMessage struct {
	Event    string `json:"event"`
	Status   string `json:"status,omitempty"`
	DataType string `json:"data_type,omitempty"`
	Message  string `json:"message,omitempty"`
}

// client 是一条大屏端 websocket 会话，实现 broadcast.Subscriber。
// 所有向连接的写入都经 writeMu 串行化（Hub 投递与读循环应答是并发的）。
type client struct {
	sid  string
	role status.Role
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *client) SessionID() string { return c.sid }

func (c *client) Role() status.Role { return c.role }

// Deliver 把广播事件推给浏览器端。
// 参数：
// - ev: 广播事件（Payload 已是对外字段结构）
// 返回：
// - error: 写失败时返回 CodeUnavailable，由 Hub 记录日志
func (c *client) Deliver(ev broadcast.Event) error {
	if err := c.writeJSON(ev.Payload); err != nil {
		return lerrors.Wrap(lerrors.CodeUnavailable, "deliver to dashboard session", err)
	}
	return nil
}

// writeJSON 在写锁与写超时保护下向连接写一条 JSON 消息。
func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// push 下发一条控制消息，失败只记日志（连接随后会在读循环中被清理）。
func (c *client) push(msg pushMessage) {
	if err := c.writeJSON(msg); err != nil {
		log.With(map[string]any{"session": c.sid}).WithError(err).Warn("下发控制消息失败")
	}
}

// ping 发送一帧 websocket ping。
func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// readRequest 读取并解析下一条客户端请求。
func (c *client) readRequest() (clientRequest, error) {
	var req clientRequest
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, lerrors.Wrap(lerrors.CodeBadRequest, "malformed dashboard request", err)
	}
	return req, nil
}
