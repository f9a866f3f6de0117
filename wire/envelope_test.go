package wire

import (
	"bytes"
	"testing"

	lerrors "lpr-bridge/errors"
)

// TestEncodeDecodeRoundTrip 验证信封编码以结束符收尾且可被重新解析。
func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := NewEnvelope("m1", TypeAuthentication, AuthBody{Token: "tok123"})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(frame, []byte(Delimiter)) {
		t.Fatalf("missing delimiter: %q", frame)
	}
	got, err := Decode(bytes.TrimSuffix(frame, []byte(Delimiter)))
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageID != "m1" || got.MessageType != TypeAuthentication {
		t.Fatalf("got=%+v", got)
	}
	var body AuthBody
	if err := DecodeBody(got, &body); err != nil {
		t.Fatal(err)
	}
	if body.Token != "tok123" {
		t.Fatalf("token=%s", body.Token)
	}
}

// TestDecodePlatesData 验证设备上报的 plates_data 消息体字段解析。
func TestDecodePlatesData(t *testing.T) {
	raw := `{"messageId":"m2","messageType":"plates_data","messageBody":{` +
		`"timestamp":"2024-11-25T12:00:00Z","camera_id":"7","full_image":"ZnVsbA==",` +
		`"cars":[{"plate":{"plate":"ABC123","plate_image":"aW1n"},` +
		`"ocr_accuracy":0.98,"vision_speed":42.5,"vehicle_class":{"name":"sedan"}}]}}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if env.MessageType != TypePlatesData {
		t.Fatalf("type=%s", env.MessageType)
	}
	var body PlatesBody
	if err := DecodeBody(env, &body); err != nil {
		t.Fatal(err)
	}
	if body.CameraID != "7" || len(body.Cars) != 1 {
		t.Fatalf("body=%+v", body)
	}
	car := body.Cars[0]
	if car.Plate.Plate != "ABC123" || car.OCRAccuracy != 0.98 || car.VisionSpeed != 42.5 {
		t.Fatalf("car=%+v", car)
	}
}

// TestDecodeRejectsBadFrames 验证非法帧返回 CodeBadRequest 而不是崩溃。
func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, err := Decode([]byte("{not json")); lerrors.Code(err) != lerrors.CodeBadRequest {
		t.Fatalf("err=%v", err)
	}
	if _, err := Decode([]byte(`{"messageId":"m"}`)); lerrors.Code(err) != lerrors.CodeBadRequest {
		t.Fatalf("err=%v", err)
	}
	env := Envelope{MessageID: "m", MessageType: TypeAcknowledge}
	var body AckBody
	if err := DecodeBody(env, &body); lerrors.Code(err) != lerrors.CodeBadRequest {
		t.Fatalf("err=%v", err)
	}
}
