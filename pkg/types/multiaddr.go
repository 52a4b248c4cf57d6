package types

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// ParseMultiaddr 解析多地址字符串
//
// 只接受格式良好的多段地址；空串与带首尾空白的字符串都会被拒绝。
// 同一字符串总是得到同一结果。
func ParseMultiaddr(s string) (ma.Multiaddr, error) {
	if s == "" || strings.TrimSpace(s) != s {
		return nil, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadAddress, s, err)
	}
	return addr, nil
}

// ParseMultiaddrs 批量解析，遇到第一个错误即返回
func ParseMultiaddrs(ss []string) ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(ss))
	for _, s := range ss {
		addr, err := ParseMultiaddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// ParsePeerID 解析节点 ID 字符串
func ParsePeerID(s string) (peer.ID, error) {
	id, err := peer.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrBadIdentity, s, err)
	}
	return id, nil
}

// ParseP2PAddr 解析带 /p2p/ 组件的地址
//
// 返回的传输地址不含 /p2p/ 部分；地址缺少节点 ID 时返回 ErrBadAddress。
func ParseP2PAddr(s string) (peer.ID, ma.Multiaddr, error) {
	addr, err := ParseMultiaddr(s)
	if err != nil {
		return "", nil, err
	}
	transport, id := peer.SplitAddr(addr)
	if id == "" {
		return "", nil, fmt.Errorf("%w: %q has no /p2p/ component", ErrBadAddress, s)
	}
	return id, transport, nil
}

// ParsePeerOrAddr 解析节点 ID 或带 /p2p/ 的地址
//
// 以 "/" 开头按地址解析，否则按节点 ID 解析；addr 可能为 nil。
func ParsePeerOrAddr(s string) (peer.ID, ma.Multiaddr, error) {
	if strings.HasPrefix(s, "/") {
		return ParseP2PAddr(s)
	}
	id, err := ParsePeerID(s)
	return id, nil, err
}

// AddrStrings 转换为字符串列表
func AddrStrings(addrs []ma.Multiaddr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
