package device

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strconv"
	"time"

	"lpr-bridge/config"
	lerrors "lpr-bridge/errors"
)

// NewTLSConfig 从文件路径加载证书材料并构造 TLS 配置。
// 规则：
// - 每次连接尝试都重新调用本函数，证书/私钥/CA 始终读取最新文件内容
// - 对端证书链始终按配置的 CA 校验
// - verify_hostname=false 时不校验对端主机名（封闭设备群 + 私有 CA 的默认部署形态）
// 参数：
// - cfg: TLS 文件路径与校验开关
// 返回：
// - *tls.Config: 可用于拨号的配置
// - error: 证书材料缺失或非法时返回 CodeConfig
func NewTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		return nil, lerrors.Wrap(lerrors.CodeConfig, "load client certificate", err)
	}
	caPEM, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, lerrors.Wrap(lerrors.CodeConfig, "read ca bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, lerrors.New(lerrors.CodeConfig, "no certificates in ca bundle")
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
	if !cfg.VerifyHostname {
		// 标准校验被关闭后由 VerifyPeerCertificate 单独完成链校验
		tc.InsecureSkipVerify = true
		tc.VerifyPeerCertificate = chainOnlyVerifier(pool)
	}
	return tc, nil
}

// chainOnlyVerifier 返回只校验证书链、不校验主机名的对端校验函数。
// 参数：
// - pool: 信任的 CA 集合
func chainOnlyVerifier(pool *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return lerrors.New(lerrors.CodeAuthFailed, "no peer certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			c, err := x509.ParseCertificate(raw)
			if err != nil {
				return lerrors.Wrap(lerrors.CodeAuthFailed, "parse peer certificate", err)
			}
			certs = append(certs, c)
		}
		opts := x509.VerifyOptions{
			Roots:         pool,
			Intermediates: x509.NewCertPool(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}
		for _, c := range certs[1:] {
			opts.Intermediates.AddCert(c)
		}
		if _, err := certs[0].Verify(opts); err != nil {
			return lerrors.Wrap(lerrors.CodeAuthFailed, "verify peer chain", err)
		}
		return nil
	}
}

type dialFunc func(ctx context.Context, ep config.DeviceConfig) (net.Conn, error)

// tlsDialFunc 返回每次调用都重建完整 TLS 上下文的拨号函数。
// 参数：
// - tcfg: TLS 配置（文件路径）
func tlsDialFunc(tcfg config.TLSConfig) dialFunc {
	return func(ctx context.Context, ep config.DeviceConfig) (net.Conn, error) {
		conf, err := NewTLSConfig(tcfg)
		if err != nil {
			return nil, err
		}
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: 10 * time.Second},
			Config:    conf,
		}
		addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
		return d.DialContext(ctx, "tcp", addr)
	}
}
