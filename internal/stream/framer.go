// Package stream はチャット応答のNDJSONストリームを扱う。
// チャンク単位で届くバイト列を行に分割するLineFramerと、1行を1エンベロープにデコードするDecodeを提供する。
package stream

import (
	"bytes"
	"errors"
)

// ErrClosed はClose後にFeedされた場合のエラー。
var ErrClosed = errors.New("stream: framer is closed")

// State はLineFramerの状態。
type State int

const (
	// Accumulating は改行待ちで、取り出せる行がない状態。
	Accumulating State = iota
	// LineReady は1行以上取り出せる状態。
	LineReady
	// StreamClosed はストリームが終了し、すべての行を取り出し終えた状態。
	StreamClosed
)

// String はログ出力用の状態名を返す。
func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case LineReady:
		return "line_ready"
	case StreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// LineFramer はチャンク境界に依存せず改行区切りの行を切り出すインクリメンタルな状態機械。
// 行をまたいだチャンクの末尾は次のFeedまでバッファに保持する。
// ゴルーチンセーフではない。
type LineFramer struct {
	buf    []byte
	closed bool
}

// NewLineFramer は空のLineFramerを生成する。
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Feed はチャンクをバッファに追加する。
// chunkはコピーされるため、呼び出し元は読み取りバッファを再利用してよい。
func (f *LineFramer) Feed(chunk []byte) error {
	if f.closed {
		return ErrClosed
	}
	f.buf = append(f.buf, chunk...)
	return nil
}

// Close はストリームの終端を通知する。
// 改行で終わらない末尾データは最後の1行としてNextで取り出せる。
func (f *LineFramer) Close() {
	f.closed = true
}

// State は現在の状態を返す。
func (f *LineFramer) State() State {
	if bytes.IndexByte(f.buf, '\n') >= 0 {
		return LineReady
	}
	if f.closed {
		if len(f.buf) > 0 {
			return LineReady
		}
		return StreamClosed
	}
	return Accumulating
}

// Next は完成した行を1つ取り出す。改行（およびCR）は含まない。
// 取り出せる行がない場合は ok=false を返す。
// 返すスライスは内部バッファとは独立している。
func (f *LineFramer) Next() (line []byte, ok bool) {
	i := bytes.IndexByte(f.buf, '\n')
	if i < 0 {
		if !f.closed || len(f.buf) == 0 {
			return nil, false
		}
		// 終端済みなら残りを最終行として返す
		i = len(f.buf)
	}

	line = bytes.TrimSuffix(bytes.Clone(f.buf[:i]), []byte("\r"))

	if i < len(f.buf) {
		f.buf = f.buf[i+1:]
	} else {
		f.buf = f.buf[:0]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return line, true
}

// Buffered は未処理のバイト数を返す。
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}
