// Package relay 组装 circuit relay v2 与 DCUtR 打洞的 host 选项
//
// 中继客户端始终可用（除非配置关闭），可选静态中继经 autorelay 预约；
// 中继服务、打洞按配置开启。这些能力不产生应用事件，打洞过程只记录日志。
package relay

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/types"
)

var log = logger.Logger("relay")

// Name 行为名
const Name = "relay"

// HostOptions 返回中继与打洞的 host 选项
func HostOptions(cfg config.RelayConfig) ([]libp2p.Option, error) {
	var opts []libp2p.Option

	if !cfg.EnableClient {
		opts = append(opts, libp2p.DisableRelay())
	} else {
		opts = append(opts, libp2p.EnableRelay())

		if len(cfg.StaticRelays) > 0 {
			relays, err := StaticRelays(cfg.StaticRelays)
			if err != nil {
				return nil, err
			}
			opts = append(opts, libp2p.EnableAutoRelayWithStaticRelays(relays))
		}
	}

	if cfg.EnableService {
		opts = append(opts, libp2p.EnableRelayService())
	}
	if cfg.EnableHolePunching {
		opts = append(opts, libp2p.EnableHolePunching(holepunch.WithTracer(tracer{})))
	}
	return opts, nil
}

// StaticRelays 解析静态中继地址，每个地址必须带 /p2p/
func StaticRelays(addrs []string) ([]peer.AddrInfo, error) {
	parsed, err := types.ParseMultiaddrs(addrs)
	if err != nil {
		return nil, err
	}
	infos, err := peer.AddrInfosFromP2pAddrs(parsed...)
	if err != nil {
		return nil, fmt.Errorf("%w: static relay: %v", types.ErrBadAddress, err)
	}
	return infos, nil
}

// tracer 记录打洞过程
type tracer struct{}

var _ holepunch.EventTracer = tracer{}

func (tracer) Trace(evt *holepunch.Event) {
	switch e := evt.Evt.(type) {
	case *holepunch.StartHolePunchEvt:
		log.Debug("开始打洞", "peer", evt.Remote, "rtt", e.RTT)
	case *holepunch.EndHolePunchEvt:
		if e.Success {
			log.Info("打洞成功", "peer", evt.Remote, "elapsed", e.EllapsedTime)
		} else {
			log.Debug("打洞失败", "peer", evt.Remote, "err", e.Error)
		}
	case *holepunch.DirectDialEvt:
		log.Debug("直连尝试", "peer", evt.Remote, "success", e.Success, "err", e.Error)
	default:
		log.Debug("打洞事件", "peer", evt.Remote, "type", evt.Type)
	}
}
