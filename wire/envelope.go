package wire

import (
	"encoding/json"

	lerrors "lpr-bridge/errors"
)

type MessageType string

const (
	TypeAuthentication  MessageType = "authentication"
	TypeAcknowledge     MessageType = "acknowledge"
	TypePlatesData      MessageType = "plates_data"
	TypeLive            MessageType = "live"
	TypeCommand         MessageType = "command"
	TypeCommandResponse MessageType = "command_response"
)

// Envelope 是设备侧协议统一的消息信封。
type Envelope struct {
	MessageID   string          `json:"messageId"`
	MessageType MessageType     `json:"messageType"`
	MessageBody json.RawMessage `json:"messageBody"`
}

type AuthBody struct {
	Token string `json:"token"`
}

type AckBody struct {
	ReplyTo string `json:"replyTo"`
	Role    string `json:"role,omitempty"`
}

type PlateInfo struct {
	Plate      string `json:"plate"`
	PlateImage string `json:"plate_image"`
}

type CarDetection struct {
	Plate        PlateInfo       `json:"plate"`
	OCRAccuracy  float64         `json:"ocr_accuracy"`
	VisionSpeed  float64         `json:"vision_speed"`
	VehicleClass json.RawMessage `json:"vehicle_class,omitempty"`
	VehicleType  json.RawMessage `json:"vehicle_type,omitempty"`
	VehicleColor json.RawMessage `json:"vehicle_color,omitempty"`
}

type PlatesBody struct {
	Timestamp string         `json:"timestamp"`
	CameraID  string         `json:"camera_id"`
	FullImage string         `json:"full_image,omitempty"`
	Cars      []CarDetection `json:"cars"`
}

type LiveBody struct {
	LiveImage string `json:"live_image"`
	CameraID  string `json:"camera_id"`
}

type CommandBody struct {
	Data json.RawMessage `json:"data"`
	HMAC string          `json:"hmac"`
}

// NewEnvelope 构造一个带类型化 body 的信封。
// 参数：
// - id: 消息 ID（关联应答用）
// - typ: 消息类型
// - body: 可 JSON 序列化的消息体
// 返回：
// - Envelope: 组装好的信封
// - error: body 序列化失败原因
func NewEnvelope(id string, typ MessageType, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, lerrors.Wrap(lerrors.CodeInternal, "marshal message body", err)
	}
	return Envelope{MessageID: id, MessageType: typ, MessageBody: raw}, nil
}

// Encode 把信封编码为一帧线上字节（JSON + 帧结束符）。
// 参数：
// - env: 待编码信封
// 返回：
// - []byte: 可直接写入连接的帧
// - error: 序列化失败原因
func Encode(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, lerrors.Wrap(lerrors.CodeInternal, "marshal envelope", err)
	}
	return append(raw, delim...), nil
}

// Decode 把一帧字节解析为信封。
// 参数：
// - frame: 一帧字节（不含结束符）
// 返回：
// - Envelope: 解析结果
// - error: JSON 非法或缺少 messageType 时返回 CodeBadRequest
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, lerrors.Wrap(lerrors.CodeBadRequest, "invalid message json", err)
	}
	if env.MessageType == "" {
		return Envelope{}, lerrors.New(lerrors.CodeBadRequest, "missing messageType")
	}
	return env, nil
}

// DecodeBody 把信封 body 解析为指定类型。
// 参数：
// - env: 信封
// - out: 目标结构指针
// 返回：
// - error: body 非法时返回 CodeBadRequest
func DecodeBody(env Envelope, out any) error {
	if len(env.MessageBody) == 0 {
		return lerrors.New(lerrors.CodeBadRequest, "missing messageBody")
	}
	if err := json.Unmarshal(env.MessageBody, out); err != nil {
		return lerrors.Wrap(lerrors.CodeBadRequest, "invalid message body", err)
	}
	return nil
}
