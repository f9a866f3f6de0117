package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	lerrors "lpr-bridge/errors"
	"lpr-bridge/log"
	"lpr-bridge/status"
)

// Subscriber 是一个大屏端会话在 Hub 侧的投递入口。
// Deliver 由 Hub 并发调用，实现方自行保证写入串行化。
type Subscriber interface {
	SessionID() string
	Role() status.Role
	Deliver(ev Event) error
}

// Hub 维护订阅关系并把设备事件扇出给匹配的大屏端会话。
// 约束：
// - plates_data 事件对匹配订阅者无条件投递
// - live 事件按全局时间戳限频：间隔内到达的帧被丢弃而不是排队
type Hub struct {
	interval time.Duration
	lastLive atomic.Int64

	mu       sync.RWMutex
	sessions map[string]Subscriber
	subs     map[status.StreamKind]map[string]map[string]struct{}
}

// NewHub 创建广播 Hub。
// 参数：
// - liveInterval: live 流最小投递间隔（<=0 时退化为 1 秒）
func NewHub(liveInterval time.Duration) *Hub {
	if liveInterval <= 0 {
		liveInterval = time.Second
	}
	return &Hub{
		interval: liveInterval,
		sessions: make(map[string]Subscriber),
		subs: map[status.StreamKind]map[string]map[string]struct{}{
			status.StreamLive:   {},
			status.StreamPlates: {},
		},
	}
}

// Attach 注册一个大屏端会话（重复注册覆盖旧投递入口）。
// 参数：
// - sub: 会话投递入口
func (h *Hub) Attach(sub Subscriber) {
	h.mu.Lock()
	h.sessions[sub.SessionID()] = sub
	h.mu.Unlock()
	log.With(map[string]any{"sid": sub.SessionID(), "role": sub.Role().String()}).Info("大屏端会话已接入")
}

// roleAllowed 判断角色是否有权订阅某个流。
// 规则：live 仅 admin；plates_data 允许 admin/operator。
func roleAllowed(kind status.StreamKind, role status.Role) bool {
	switch kind {
	case status.StreamLive:
		return role == status.RoleAdmin
	case status.StreamPlates:
		return role == status.RoleAdmin || role == status.RoleOperator
	default:
		return false
	}
}

// Subscribe 为会话登记 (流类型, 摄像头) 订阅（幂等）。
// 参数：
// - sid: 会话 ID
// - kind: 流类型
// - cameraID: 摄像头 ID
// 返回：
// - error: 会话未接入返回 CodeBadRequest；角色无权限返回 CodeAuthFailed
func (h *Hub) Subscribe(sid string, kind status.StreamKind, cameraID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.sessions[sid]
	if !ok {
		return lerrors.New(lerrors.CodeBadRequest, "unknown session")
	}
	if !roleAllowed(kind, sub.Role()) {
		return lerrors.New(lerrors.CodeAuthFailed, "role not permitted for stream")
	}
	cams, ok := h.subs[kind][sid]
	if !ok {
		cams = make(map[string]struct{})
		h.subs[kind][sid] = cams
	}
	cams[cameraID] = struct{}{}
	return nil
}

// Unsubscribe 移除会话对 (流类型, 摄像头) 的订阅（幂等，移除不存在的订阅不报错）。
// 参数：
// - sid: 会话 ID
// - kind: 流类型
// - cameraID: 摄像头 ID
func (h *Hub) Unsubscribe(sid string, kind status.StreamKind, cameraID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cams, ok := h.subs[kind][sid]
	if !ok {
		return
	}
	delete(cams, cameraID)
	if len(cams) == 0 {
		delete(h.subs[kind], sid)
	}
}

// DropSession 把会话从全部流的订阅表中移除（大屏端断开时调用，幂等）。
// 参数：
// - sid: 会话 ID
func (h *Hub) DropSession(sid string) {
	h.mu.Lock()
	delete(h.sessions, sid)
	for kind := range h.subs {
		delete(h.subs[kind], sid)
	}
	h.mu.Unlock()
	log.With(map[string]any{"sid": sid}).Info("大屏端会话已清理")
}

// Publish 把事件扇出给订阅了对应摄像头的会话。
// 规则：
// - 投递按订阅者并发执行，单个订阅者失败只记录日志，不影响其余投递
// - live 流全局限频，间隔内的事件直接丢弃
// 参数：
// - ev: 待分发事件
func (h *Hub) Publish(ev Event) {
	if ev.Kind == status.StreamLive {
		now := time.Now().UnixNano()
		last := h.lastLive.Load()
		if now-last < int64(h.interval) {
			return
		}
		if !h.lastLive.CompareAndSwap(last, now) {
			return
		}
	}

	h.mu.RLock()
	var targets []Subscriber
	for sid, cams := range h.subs[ev.Kind] {
		if _, ok := cams[ev.CameraID]; !ok {
			continue
		}
		if sub, ok := h.sessions[sid]; ok {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		go func(sub Subscriber) {
			if err := sub.Deliver(ev); err != nil {
				log.With(map[string]any{
					"sid":       sub.SessionID(),
					"stream":    ev.Kind.String(),
					"camera_id": ev.CameraID,
				}).WithError(err).Warn("事件投递失败")
			}
		}(sub)
	}
}

// SubscriberCount 返回某个流当前的订阅会话数量（观测与测试用）。
func (h *Hub) SubscriberCount(kind status.StreamKind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[kind])
}
