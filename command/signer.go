package command

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lerrors "lpr-bridge/errors"
	"lpr-bridge/wire"

	"github.com/google/uuid"
)

// Signer 为下行命令生成完整性签名。
// 设备端会用同一密钥重算 HMAC 并拒绝不匹配的命令；本端不校验上行签名。
type Signer struct {
	key []byte
}

// NewSigner 用共享密钥构造 Signer。
// 参数：
// - secret: HMAC 共享密钥
// 返回：
// - *Signer: 签名器
// - error: 密钥为空时返回 CodeConfig（启动期配置错误）
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, lerrors.New(lerrors.CodeConfig, "hmac secret is empty")
	}
	return &Signer{key: []byte(secret)}, nil
}

// Sign 对命令数据生成签名并封装为 command 信封。
// 规则：
// - 签名覆盖 data 的精确序列化字节（hex(HMAC-SHA256)）
// - messageId 每次生成新的 UUID
// 参数：
// - data: 命令数据（可 JSON 序列化）
// 返回：
// - wire.Envelope: 待发送的 command 信封
// - error: data 序列化失败原因
func (s *Signer) Sign(data any) (wire.Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return wire.Envelope{}, lerrors.Wrap(lerrors.CodeBadRequest, "marshal command data", err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(raw)
	body := wire.CommandBody{
		Data: raw,
		HMAC: hex.EncodeToString(mac.Sum(nil)),
	}
	return wire.NewEnvelope(uuid.NewString(), wire.TypeCommand, body)
}

// Verify 校验序列化数据与签名是否匹配（测试与设备侧自检用）。
// 参数：
// - data: 被签名的序列化字节
// - signature: hex 编码的 HMAC-SHA256
// 返回：
// - bool: 是否匹配
func (s *Signer) Verify(data []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), sig)
}
