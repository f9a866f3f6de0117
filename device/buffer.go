package device

import "sync"

// 车牌帧里可能内嵌 base64 图片，单次读取按 64KB 预留，避免频繁扩容。
const (
	readBufSize    = 64 * 1024
	minRecycleSize = 4096
)

var readBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, readBufSize)
		return &b
	},
}

// acquireReadBuf 从缓冲池获取一个可复用的读缓冲区。
func acquireReadBuf() []byte {
	p := readBufPool.Get().(*[]byte)
	return *p
}

// releaseReadBuf 将缓冲区放回缓冲池（会忽略异常小的切片）。
// 参数：
// - b: 待回收缓冲区
func releaseReadBuf(b []byte) {
	if cap(b) < minRecycleSize {
		return
	}
	b = b[:cap(b)]
	readBufPool.Put(&b)
}
