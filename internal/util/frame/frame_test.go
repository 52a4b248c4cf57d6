package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrame 测试多帧读写
func TestFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []byte("hello")))
	require.NoError(t, Write(&buf, nil))
	require.NoError(t, Write(&buf, bytes.Repeat([]byte{0xab}, 300)))

	// 300 字节需要两字节长度前缀
	assert.Equal(t, 1+5+1+2+300, buf.Len())

	r := NewReader(&buf, 1024)
	got, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = r.Read()
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Read()
	require.NoError(t, err)
	assert.Len(t, got, 300)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

// TestFrame_TooLarge 测试超限
func TestFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, make([]byte, 100)))
	_, err := ReadOne(&buf, 99)
	assert.ErrorIs(t, err, ErrTooLarge)
}

// TestFrame_Truncated 测试截断
func TestFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:3])
	_, err := ReadOne(truncated, 1024)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
