package gateway

import (
	"net/http"

	"github.com/golang-jwt/jwt/v4"

	lerrors "lpr-bridge/errors"
	"lpr-bridge/status"
)

// Claims 是大屏端会话令牌的载荷，role 决定可订阅的数据流。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// tokenFromRequest 从请求中提取会话令牌。
// 优先级：Cookie auth_token > 查询参数 token。
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("auth_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// parseToken 校验 HS256 令牌并解析其中的角色。
// 参数：
// - secret: 签名密钥
// - raw: 令牌文本
// 返回：
// - status.Role: 角色（令牌未携带 role 时默认 viewer）
// - error: 令牌缺失/签名不符/已过期/角色非法时返回 CodeAuthFailed
func parseToken(secret, raw string) (status.Role, error) {
	if raw == "" {
		return "", lerrors.New(lerrors.CodeAuthFailed, "missing auth token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, lerrors.New(lerrors.CodeAuthFailed, "unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", lerrors.Wrap(lerrors.CodeAuthFailed, "invalid auth token", err)
	}
	if claims.Role == "" {
		return status.RoleViewer, nil
	}
	role, perr := status.ParseRole(claims.Role)
	if perr != nil {
		return "", lerrors.Wrap(lerrors.CodeAuthFailed, "invalid role claim", perr)
	}
	return role, nil
}
