// Package frame 提供无符号 varint 长度前缀的消息帧
//
// 帧格式：uvarint(len) || payload。rendezvous 与 request/response 协议共用。
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// ErrTooLarge 帧长度超过上限
var ErrTooLarge = errors.New("frame: message too large")

// Write 写入一帧
func Write(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(payload)))+len(payload))
	buf = append(buf, varint.ToUvarint(uint64(len(payload)))...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// Reader 帧读取器
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader 创建帧读取器，max 为单帧上限
func NewReader(r io.Reader, max int) *Reader {
	return &Reader{r: bufio.NewReader(r), max: max}
}

// Read 读取一帧
//
// 流在帧边界结束时返回 io.EOF，帧中途结束返回 io.ErrUnexpectedEOF。
func (fr *Reader) Read() ([]byte, error) {
	n, err := varint.ReadUvarint(fr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("frame: read length: %w", err)
	}
	if n > uint64(fr.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, fr.max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ReadOne 从 r 读取一帧
func ReadOne(r io.Reader, max int) ([]byte, error) {
	return NewReader(r, max).Read()
}
