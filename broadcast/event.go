package broadcast

import (
	"encoding/json"

	"lpr-bridge/status"
	"lpr-bridge/wire"
)

// Event 是一条待分发给大屏端的事件。
// Payload 使用对外稳定的字段结构，与设备上报的原始字段解耦。
type Event struct {
	Kind     status.StreamKind
	CameraID string
	Payload  any
}

type CarEvent struct {
	PlateNumber  string          `json:"plate_number"`
	PlateImage   string          `json:"plate_image"`
	OCRAccuracy  float64         `json:"ocr_accuracy"`
	VisionSpeed  float64         `json:"vision_speed"`
	VehicleClass json.RawMessage `json:"vehicle_class,omitempty"`
	VehicleType  json.RawMessage `json:"vehicle_type,omitempty"`
	VehicleColor json.RawMessage `json:"vehicle_color,omitempty"`
}

type PlatesEvent struct {
	MessageType string     `json:"messageType"`
	Timestamp   string     `json:"timestamp"`
	CameraID    string     `json:"camera_id"`
	FullImage   string     `json:"full_image,omitempty"`
	Cars        []CarEvent `json:"cars"`
}

type LiveEvent struct {
	MessageType string `json:"messageType"`
	LiveImage   string `json:"live_image"`
	CameraID    string `json:"camera_id"`
}

// NewPlatesEvent 把设备上报的车牌数据重整为对外字段结构。
// 参数：
// - body: 设备侧 plates_data 消息体
// 返回：
// - Event: 可直接 Publish 的事件
func NewPlatesEvent(body wire.PlatesBody) Event {
	cars := make([]CarEvent, 0, len(body.Cars))
	for _, car := range body.Cars {
		cars = append(cars, CarEvent{
			PlateNumber:  car.Plate.Plate,
			PlateImage:   car.Plate.PlateImage,
			OCRAccuracy:  car.OCRAccuracy,
			VisionSpeed:  car.VisionSpeed,
			VehicleClass: car.VehicleClass,
			VehicleType:  car.VehicleType,
			VehicleColor: car.VehicleColor,
		})
	}
	return Event{
		Kind:     status.StreamPlates,
		CameraID: body.CameraID,
		Payload: PlatesEvent{
			MessageType: string(wire.TypePlatesData),
			Timestamp:   body.Timestamp,
			CameraID:    body.CameraID,
			FullImage:   body.FullImage,
			Cars:        cars,
		},
	}
}

// NewLiveEvent 把设备上报的实时画面重整为对外字段结构。
// 参数：
// - body: 设备侧 live 消息体
// 返回：
// - Event: 可直接 Publish 的事件
func NewLiveEvent(body wire.LiveBody) Event {
	return Event{
		Kind:     status.StreamLive,
		CameraID: body.CameraID,
		Payload: LiveEvent{
			MessageType: string(wire.TypeLive),
			LiveImage:   body.LiveImage,
			CameraID:    body.CameraID,
		},
	}
}
