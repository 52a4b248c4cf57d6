package types

import (
	"encoding/binary"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// PeerRecord 节点 ID 与其通告地址
type PeerRecord struct {
	PeerID peer.ID
	Addrs  []ma.Multiaddr
}

// AddrInfo 转换为 peer.AddrInfo
func (r PeerRecord) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: r.PeerID, Addrs: r.Addrs}
}

// ============================================================================
//                              Cookie - 增量发现游标
// ============================================================================

// ErrInvalidCookie cookie 编码无效
var ErrInvalidCookie = errors.New("invalid rendezvous cookie")

// Cookie rendezvous 发现游标
//
// 服务端返回的 Cookie 记录已返回的最大注册序号，
// 下次发现时带回即可只获取其后的新注册。
// Namespace 为空表示所有命名空间。
type Cookie struct {
	ID        uint64
	Namespace string
}

// CookieForAllNamespaces 所有命名空间的初始游标
func CookieForAllNamespaces() Cookie {
	return Cookie{}
}

// CookieForNamespace 指定命名空间的初始游标
func CookieForNamespace(ns string) Cookie {
	return Cookie{Namespace: ns}
}

// Bytes 编码为 8 字节大端序号 + 命名空间
func (c Cookie) Bytes() []byte {
	b := make([]byte, 8+len(c.Namespace))
	binary.BigEndian.PutUint64(b, c.ID)
	copy(b[8:], c.Namespace)
	return b
}

// ParseCookie 解码 Cookie
func ParseCookie(b []byte) (Cookie, error) {
	if len(b) < 8 {
		return Cookie{}, ErrInvalidCookie
	}
	return Cookie{
		ID:        binary.BigEndian.Uint64(b[:8]),
		Namespace: string(b[8:]),
	}, nil
}
