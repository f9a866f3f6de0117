package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-bridge/broadcast"
	lerrors "lpr-bridge/errors"
	"lpr-bridge/status"
)

const gwSecret = "gw-test-secret"

type fakeDevices struct {
	states map[string]string
}

func (f *fakeDevices) DeviceStates() map[string]string { return f.states }

type fakeCommands struct {
	lastDevice  string
	lastCommand string
	lastCamera  string
	err         error
}

func (f *fakeCommands) SendCommand(id, commandType, cameraID string, payload map[string]any) error {
	f.lastDevice, f.lastCommand, f.lastCamera = id, commandType, cameraID
	return f.err
}

// freeTCPPort 申请一个空闲端口用于测试监听。
func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startServer 启动一套完整的接入服务并等待端口可用。
func startServer(t *testing.T, hub *broadcast.Hub, devices DeviceSource, commands CommandSender) string {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", freeTCPPort(t))
	srv := NewServer(addr, gwSecret, hub, devices, commands)
	go func() { _ = srv.ListenAndServe() }()
	t.Cleanup(func() { _ = srv.httpSrv.Close() })

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
	return addr
}

// dialWS 以给定角色的令牌接入 websocket。
func dialWS(t *testing.T, addr, role string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws?token=%s", addr, signToken(t, gwSecret, role, time.Minute))
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readPush 读取下一条服务端消息并解析为通用 map。
func readPush(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestGatewaySubscribeRoundTrip(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	addr := startServer(t, hub, &fakeDevices{}, &fakeCommands{})

	conn := dialWS(t, addr, "operator")
	require.NoError(t, conn.WriteJSON(map[string]string{"request_type": "plate", "cameraID": "3"}))

	ack := readPush(t, conn)
	assert.Equal(t, "request_acknowledged", ack["event"])
	assert.Equal(t, "subscribed", ack["status"])
	assert.Equal(t, "plates_data", ack["data_type"])

	hub.Publish(broadcast.Event{
		Kind:     status.StreamPlates,
		CameraID: "3",
		Payload: broadcast.PlatesEvent{
			MessageType: "plates_data",
			CameraID:    "3",
			Cars:        []broadcast.CarEvent{{PlateNumber: "ABC123"}},
		},
	})

	ev := readPush(t, conn)
	assert.Equal(t, "plates_data", ev["messageType"])
	cars := ev["cars"].([]any)
	require.Len(t, cars, 1)
	assert.Equal(t, "ABC123", cars[0].(map[string]any)["plate_number"])

	// 未订阅的摄像头不投递
	hub.Publish(broadcast.Event{
		Kind:     status.StreamPlates,
		CameraID: "9",
		Payload:  broadcast.PlatesEvent{MessageType: "plates_data", CameraID: "9"},
	})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg map[string]any
	require.Error(t, conn.ReadJSON(&msg), "event for unsubscribed camera: %v", msg)
}

func TestGatewayRoleGate(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	addr := startServer(t, hub, &fakeDevices{}, &fakeCommands{})

	// operator 无权订阅 live
	conn := dialWS(t, addr, "operator")
	require.NoError(t, conn.WriteJSON(map[string]string{"request_type": "live", "cameraID": "1"}))
	msg := readPush(t, conn)
	assert.Equal(t, "error", msg["event"])
	assert.Equal(t, "Unauthorized to access this data", msg["message"])

	// admin 可以
	admin := dialWS(t, addr, "admin")
	require.NoError(t, admin.WriteJSON(map[string]string{"request_type": "live", "cameraID": "1"}))
	ack := readPush(t, admin)
	assert.Equal(t, "request_acknowledged", ack["event"])
	assert.Equal(t, "live", ack["data_type"])
}

func TestGatewayRejectsBadToken(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	addr := startServer(t, hub, &fakeDevices{}, &fakeCommands{})

	_, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", addr), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayUnsubscribeAndMalformed(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	addr := startServer(t, hub, &fakeDevices{}, &fakeCommands{})

	conn := dialWS(t, addr, "operator")
	require.NoError(t, conn.WriteJSON(map[string]string{"request_type": "plate", "cameraID": "3"}))
	readPush(t, conn)
	assert.Eventually(t, func() bool { return hub.SubscriberCount(status.StreamPlates) == 1 },
		time.Second, 10*time.Millisecond)

	// 非法 JSON 只回错误，不断连
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readPush(t, conn)
	assert.Equal(t, "error", msg["event"])

	require.NoError(t, conn.WriteJSON(map[string]string{
		"request_type": "unsubscribe", "data_type": "plate", "cameraID": "3",
	}))
	ack := readPush(t, conn)
	assert.Equal(t, "unsubscribed", ack["status"])
	assert.Eventually(t, func() bool { return hub.SubscriberCount(status.StreamPlates) == 0 },
		time.Second, 10*time.Millisecond)
}

func TestGatewayDropOnDisconnect(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	addr := startServer(t, hub, &fakeDevices{}, &fakeCommands{})

	conn := dialWS(t, addr, "admin")
	require.NoError(t, conn.WriteJSON(map[string]string{"request_type": "live", "cameraID": "1"}))
	readPush(t, conn)
	require.Equal(t, 1, hub.SubscriberCount(status.StreamLive))

	conn.Close()
	assert.Eventually(t, func() bool { return hub.SubscriberCount(status.StreamLive) == 0 },
		2*time.Second, 20*time.Millisecond)
}

func TestStatusEndpoint(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	addr := startServer(t, hub, &fakeDevices{states: map[string]string{"lpr-1": "Ready"}}, &fakeCommands{})

	resp, err := http.Get(fmt.Sprintf("http://%s/status", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Ready", body["devices"]["lpr-1"])
}

func TestCommandEndpoint(t *testing.T) {
	hub := broadcast.NewHub(time.Second)
	commands := &fakeCommands{}
	addr := startServer(t, hub, &fakeDevices{}, commands)
	url := fmt.Sprintf("http://%s/command", addr)

	post := func(role string, body map[string]any) *http.Response {
		t.Helper()
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
		require.NoError(t, err)
		if role != "" {
			req.URL.RawQuery = "token=" + signToken(t, gwSecret, role, time.Minute)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	cmd := map[string]any{"device_id": "lpr-1", "commandType": "restart", "camera_id": "2"}

	assert.Equal(t, http.StatusUnauthorized, post("", cmd).StatusCode)
	assert.Equal(t, http.StatusForbidden, post("operator", cmd).StatusCode)

	resp := post("admin", cmd)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "lpr-1", commands.lastDevice)
	assert.Equal(t, "restart", commands.lastCommand)
	assert.Equal(t, "2", commands.lastCamera)

	assert.Equal(t, http.StatusBadRequest, post("admin", map[string]any{"device_id": "lpr-1"}).StatusCode)

	commands.err = lerrors.New(lerrors.CodeNotConnected, "device not connected")
	assert.Equal(t, http.StatusServiceUnavailable, post("admin", cmd).StatusCode)
}
