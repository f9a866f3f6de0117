package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "lpr-bridge/errors"
	"lpr-bridge/status"
	"lpr-bridge/wire"
)

type fakeSub struct {
	sid  string
	role status.Role
	got  chan Event
}

func newFakeSub(sid string, role status.Role) *fakeSub {
	return &fakeSub{sid: sid, role: role, got: make(chan Event, 16)}
}

func (f *fakeSub) SessionID() string      { return f.sid }
func (f *fakeSub) Role() status.Role      { return f.role }
func (f *fakeSub) Deliver(ev Event) error { f.got <- ev; return nil }

// recvOne 在限定时间内等待一条事件。
func recvOne(t *testing.T, f *fakeSub, d time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev := <-f.got:
		return ev, true
	case <-time.After(d):
		return Event{}, false
	}
}

// TestPublishPlatesRoutesByCamera 验证 plates_data 只投递给订阅了对应摄像头的会话。
func TestPublishPlatesRoutesByCamera(t *testing.T) {
	h := NewHub(time.Second)
	a := newFakeSub("A", status.RoleOperator)
	b := newFakeSub("B", status.RoleOperator)
	h.Attach(a)
	h.Attach(b)
	require.NoError(t, h.Subscribe("A", status.StreamPlates, "7"))
	require.NoError(t, h.Subscribe("B", status.StreamPlates, "9"))

	h.Publish(NewPlatesEvent(wire.PlatesBody{CameraID: "7", Timestamp: "t1"}))

	ev, ok := recvOne(t, a, time.Second)
	require.True(t, ok, "A should receive the event")
	assert.Equal(t, "7", ev.CameraID)
	payload, isPlates := ev.Payload.(PlatesEvent)
	require.True(t, isPlates)
	assert.Equal(t, "plates_data", payload.MessageType)

	_, ok = recvOne(t, b, 100*time.Millisecond)
	assert.False(t, ok, "B must not receive camera 7 events")
}

// TestLiveRateLimitIsGlobal 验证 live 流按全局时间戳限频：间隔内只投递一次。
func TestLiveRateLimitIsGlobal(t *testing.T) {
	h := NewHub(200 * time.Millisecond)
	a := newFakeSub("A", status.RoleAdmin)
	h.Attach(a)
	require.NoError(t, h.Subscribe("A", status.StreamLive, "1"))

	h.Publish(NewLiveEvent(wire.LiveBody{CameraID: "1", LiveImage: "f1"}))
	h.Publish(NewLiveEvent(wire.LiveBody{CameraID: "1", LiveImage: "f2"}))

	_, ok := recvOne(t, a, time.Second)
	require.True(t, ok)
	_, ok = recvOne(t, a, 100*time.Millisecond)
	assert.False(t, ok, "second frame within interval must be dropped")

	time.Sleep(250 * time.Millisecond)
	h.Publish(NewLiveEvent(wire.LiveBody{CameraID: "1", LiveImage: "f3"}))
	_, ok = recvOne(t, a, time.Second)
	assert.True(t, ok, "frame after interval must be delivered")
}

// TestSubscribeRoleGate 验证订阅按角色门禁：live 仅 admin，plates 允许 operator。
func TestSubscribeRoleGate(t *testing.T) {
	h := NewHub(time.Second)
	viewer := newFakeSub("V", status.RoleViewer)
	op := newFakeSub("O", status.RoleOperator)
	h.Attach(viewer)
	h.Attach(op)

	err := h.Subscribe("V", status.StreamPlates, "1")
	assert.Equal(t, lerrors.CodeAuthFailed, lerrors.Code(err))

	err = h.Subscribe("O", status.StreamLive, "1")
	assert.Equal(t, lerrors.CodeAuthFailed, lerrors.Code(err))

	assert.NoError(t, h.Subscribe("O", status.StreamPlates, "1"))

	err = h.Subscribe("ghost", status.StreamPlates, "1")
	assert.Equal(t, lerrors.CodeBadRequest, lerrors.Code(err))
}

// TestUnsubscribeIdempotent 验证退订幂等且清空后会话从订阅表消失。
func TestUnsubscribeIdempotent(t *testing.T) {
	h := NewHub(time.Second)
	a := newFakeSub("A", status.RoleOperator)
	h.Attach(a)
	require.NoError(t, h.Subscribe("A", status.StreamPlates, "1"))
	require.NoError(t, h.Subscribe("A", status.StreamPlates, "2"))

	h.Unsubscribe("A", status.StreamPlates, "1")
	h.Unsubscribe("A", status.StreamPlates, "1")
	assert.Equal(t, 1, h.SubscriberCount(status.StreamPlates))

	h.Unsubscribe("A", status.StreamPlates, "2")
	assert.Equal(t, 0, h.SubscriberCount(status.StreamPlates))

	h.Unsubscribe("nobody", status.StreamPlates, "1")
}

type brokenSub struct {
	sid string
}

func (b *brokenSub) SessionID() string { return b.sid }
func (b *brokenSub) Role() status.Role { return status.RoleOperator }
func (b *brokenSub) Deliver(Event) error {
	return lerrors.New(lerrors.CodeUnavailable, "connection gone")
}

// TestPublishIsolatesSubscriberFailures 验证单个订阅者投递失败不影响其余订阅者。
func TestPublishIsolatesSubscriberFailures(t *testing.T) {
	h := NewHub(time.Second)
	broken := &brokenSub{sid: "broken"}
	healthy := newFakeSub("healthy", status.RoleOperator)
	h.Attach(broken)
	h.Attach(healthy)
	require.NoError(t, h.Subscribe("broken", status.StreamPlates, "1"))
	require.NoError(t, h.Subscribe("healthy", status.StreamPlates, "1"))

	h.Publish(NewPlatesEvent(wire.PlatesBody{CameraID: "1"}))

	_, ok := recvOne(t, healthy, time.Second)
	assert.True(t, ok, "healthy subscriber must still receive the event")
}

// TestDropSessionRemovesAllStreams 验证 DropSession 清理全部流的订阅。
func TestDropSessionRemovesAllStreams(t *testing.T) {
	h := NewHub(time.Second)
	a := newFakeSub("A", status.RoleAdmin)
	h.Attach(a)
	require.NoError(t, h.Subscribe("A", status.StreamLive, "1"))
	require.NoError(t, h.Subscribe("A", status.StreamPlates, "1"))

	h.DropSession("A")
	assert.Equal(t, 0, h.SubscriberCount(status.StreamLive))
	assert.Equal(t, 0, h.SubscriberCount(status.StreamPlates))

	h.Publish(NewPlatesEvent(wire.PlatesBody{CameraID: "1"}))
	_, ok := recvOne(t, a, 100*time.Millisecond)
	assert.False(t, ok)
}
