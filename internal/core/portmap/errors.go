package portmap

import "errors"

var (
	// ErrNoGateway 未找到支持端口映射的网关
	ErrNoGateway = errors.New("portmap: no gateway found")

	// ErrNoExternalIP 网关未返回有效外部地址
	ErrNoExternalIP = errors.New("portmap: gateway has no external ip")

	// ErrMappingFailed 端口映射失败
	ErrMappingFailed = errors.New("portmap: port mapping failed")

	// ErrUnsupportedAddr 地址不是可映射的 IPv4 TCP/UDP 地址
	ErrUnsupportedAddr = errors.New("portmap: address is not an ipv4 tcp/udp address")
)
