package wire

import "bytes"

// Delimiter 是设备侧协议的帧结束符，每一帧以它收尾。
const Delimiter = "<END>"

var delim = []byte(Delimiter)

// Framer 把到达顺序任意切分的字节块还原为完整帧。
// 说明：
// - 扫描位置 scanned 只前进不回退，保证整条连接的分帧开销为 O(总字节数)，
//   即使单帧内嵌大图也不会对已扫描区间重复查找
// - 空帧直接丢弃
type Framer struct {
	buf     []byte
	scanned int
}

// Push 追加一段新到达的字节并返回其中所有完整帧。
// 参数：
// - chunk: 新到达的字节（任意大小，可为空）
// 返回：
// - [][]byte: 依次出现的完整帧体（不含结束符），无完整帧时为 nil
func (f *Framer) Push(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		i := bytes.Index(f.buf[f.scanned:], delim)
		if i < 0 {
			// 结束符可能跨块到达，保留末尾 len(delim)-1 字节待重扫
			f.scanned = len(f.buf) - (len(delim) - 1)
			if f.scanned < 0 {
				f.scanned = 0
			}
			return frames
		}
		end := f.scanned + i
		if end > 0 {
			frame := make([]byte, end)
			copy(frame, f.buf[:end])
			frames = append(frames, frame)
		}
		f.buf = f.buf[end+len(delim):]
		f.scanned = 0
	}
}

// Pending 返回当前缓冲中未成帧的字节数（用于观测与测试）。
func (f *Framer) Pending() int { return len(f.buf) }

// Reset 清空缓冲（连接重建后复用 Framer 时调用）。
func (f *Framer) Reset() {
	f.buf = nil
	f.scanned = 0
}
