package portmap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
)

// igdClient IGD 连接服务的公共方法
type igdClient interface {
	GetExternalIPAddress() (string, error)
	AddPortMapping(
		remoteHost string,
		externalPort uint16,
		protocol string,
		internalPort uint16,
		internalClient string,
		enabled bool,
		description string,
		leaseDuration uint32,
	) error
	DeletePortMapping(remoteHost string, externalPort uint16, protocol string) error
	GetServiceClient() *goupnp.ServiceClient
}

type igdv2IP struct{ *internetgateway2.WANIPConnection2 }
type igdv2PPP struct{ *internetgateway2.WANPPPConnection1 }
type igdv1IP struct{ *internetgateway1.WANIPConnection1 }
type igdv1PPP struct{ *internetgateway1.WANPPPConnection1 }

func (c igdv2IP) GetServiceClient() *goupnp.ServiceClient  { return &c.ServiceClient }
func (c igdv2PPP) GetServiceClient() *goupnp.ServiceClient { return &c.ServiceClient }
func (c igdv1IP) GetServiceClient() *goupnp.ServiceClient  { return &c.ServiceClient }
func (c igdv1PPP) GetServiceClient() *goupnp.ServiceClient { return &c.ServiceClient }

// upnpMapper 基于 UPnP IGD 的端口映射
type upnpMapper struct {
	client  igdClient
	kind    string
	localIP string
}

// discoverUPnP 依次尝试 IGDv2/IGDv1 的 IP 与 PPP 连接服务
func discoverUPnP(ctx context.Context) (*upnpMapper, error) {
	type candidate struct {
		kind string
		find func(context.Context) (igdClient, error)
	}
	candidates := []candidate{
		{"IGDv2-WANIPConnection2", func(ctx context.Context) (igdClient, error) {
			cs, _, err := internetgateway2.NewWANIPConnection2ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, err
			}
			return igdv2IP{cs[0]}, nil
		}},
		{"IGDv2-WANPPPConnection1", func(ctx context.Context) (igdClient, error) {
			cs, _, err := internetgateway2.NewWANPPPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, err
			}
			return igdv2PPP{cs[0]}, nil
		}},
		{"IGDv1-WANIPConnection1", func(ctx context.Context) (igdClient, error) {
			cs, _, err := internetgateway1.NewWANIPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, err
			}
			return igdv1IP{cs[0]}, nil
		}},
		{"IGDv1-WANPPPConnection1", func(ctx context.Context) (igdClient, error) {
			cs, _, err := internetgateway1.NewWANPPPConnection1ClientsCtx(ctx)
			if err != nil || len(cs) == 0 {
				return nil, err
			}
			return igdv1PPP{cs[0]}, nil
		}},
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		client, err := c.find(ctx)
		if err != nil {
			log.Debug("UPnP 发现失败", "service", c.kind, "err", err)
			continue
		}
		if client == nil {
			continue
		}
		m := &upnpMapper{client: client, kind: c.kind, localIP: localIPFor(client)}
		if sc := client.GetServiceClient(); sc != nil && sc.RootDevice != nil {
			log.Info("发现 UPnP 网关", "service", c.kind, "device", sc.RootDevice.Device.FriendlyName)
		}
		return m, nil
	}
	return nil, ErrNoGateway
}

// localIPFor 选择访问网关所用的本地地址，作为映射的内部客户端
func localIPFor(client igdClient) string {
	if sc := client.GetServiceClient(); sc != nil && sc.Location != nil {
		host := sc.Location.Host
		if !strings.Contains(host, ":") {
			host += ":80"
		}
		conn, err := net.DialTimeout("udp", host, time.Second)
		if err == nil {
			defer conn.Close()
			if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
				return addr.IP.String()
			}
		}
	}
	return outboundIP()
}

// outboundIP 默认路由上的本地地址
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func (m *upnpMapper) name() string { return "upnp" }

func (m *upnpMapper) externalIP() (net.IP, error) {
	s, err := m.client.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("%w: gateway returned %q", ErrNoExternalIP, s)
	}
	return ip, nil
}

func (m *upnpMapper) addMapping(proto string, internalPort int, desc string, lease time.Duration) (int, error) {
	seconds := uint32(lease.Seconds())
	if seconds == 0 {
		seconds = 3600
	}
	err := m.client.AddPortMapping(
		"",
		uint16(internalPort),
		strings.ToUpper(proto),
		uint16(internalPort),
		m.localIP,
		true,
		desc,
		seconds,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}
	return internalPort, nil
}

func (m *upnpMapper) deleteMapping(proto string, externalPort int) error {
	return m.client.DeletePortMapping("", uint16(externalPort), strings.ToUpper(proto))
}
