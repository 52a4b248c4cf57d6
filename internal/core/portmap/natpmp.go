package portmap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// natpmpMapper 基于 NAT-PMP 的端口映射
type natpmpMapper struct {
	client  *natpmp.Client
	gateway net.IP
}

// discoverNATPMP 通过默认网关探测 NAT-PMP
//
// go-nat-pmp 的调用不支持 ctx，用 goroutine + select 实现超时。
func discoverNATPMP(ctx context.Context) (*natpmpMapper, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGateway, err)
	}
	if gw.To4() == nil {
		return nil, fmt.Errorf("%w: gateway %s is not IPv4", ErrNoGateway, gw)
	}

	client := natpmp.NewClient(gw)
	type result struct {
		resp *natpmp.GetExternalAddressResult
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := client.GetExternalAddress()
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoGateway, r.err)
		}
		log.Info("发现 NAT-PMP 网关", "gateway", gw)
		return &natpmpMapper{client: client, gateway: gw}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoGateway, ctx.Err())
	}
}

func (m *natpmpMapper) name() string { return "natpmp" }

func (m *natpmpMapper) externalIP() (net.IP, error) {
	resp, err := m.client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	return net.IP(resp.ExternalIPAddress[:]), nil
}

func (m *natpmpMapper) addMapping(proto string, internalPort int, _ string, lease time.Duration) (int, error) {
	lifetime := int(lease.Seconds())
	if lifetime == 0 {
		lifetime = 3600
	}
	resp, err := m.client.AddPortMapping(proto, internalPort, internalPort, lifetime)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMappingFailed, err)
	}
	return int(resp.MappedExternalPort), nil
}

// deleteMapping 以零租期重新映射即删除
func (m *natpmpMapper) deleteMapping(proto string, externalPort int) error {
	_, err := m.client.AddPortMapping(proto, externalPort, externalPort, 0)
	return err
}
