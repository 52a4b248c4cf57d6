package overlay

import (
	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/multierr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/core/admission"
	"github.com/dep2p/go-overlay/internal/core/gossip"
	"github.com/dep2p/go-overlay/internal/core/identify"
	"github.com/dep2p/go-overlay/internal/core/nat"
	"github.com/dep2p/go-overlay/internal/core/portmap"
	"github.com/dep2p/go-overlay/internal/core/relay"
	"github.com/dep2p/go-overlay/internal/core/rendezvous"
	"github.com/dep2p/go-overlay/internal/core/reqresp"
)

// behaviour 挂载在 host 上的行为模块
type behaviour interface {
	Name() string
	Start(h host.Host) error
	Close() error
}

// behaviours Session 的行为集合
//
// 行为通过 emit 回调把事实送入 Session 队列，彼此之间不直接调用。
// 未启用的行为为 nil。
type behaviours struct {
	gater     *admission.Gater
	nat       *nat.Behaviour
	identify  *identify.Behaviour
	portmap   *portmap.Behaviour
	rdvClient *rendezvous.Client
	rdvServer *rendezvous.Server
	gossip    *gossip.Behaviour
	reqresp   *reqresp.Behaviour

	started []behaviour
}

func newBehaviours(cfg *config.Config, push func(rawEvent), clk clock.Clock) *behaviours {
	return &behaviours{
		gater: admission.New(cfg.Admission,
			func(e admission.Event) { push(rawAdmission{e}) },
			admission.WithClock(clk)),
		nat:       nat.New(cfg.NAT, func(e nat.Event) { push(rawNAT{e}) }, clk),
		identify:  identify.New(func(e identify.Event) { push(rawIdentify{e}) }),
		portmap:   portmap.New(cfg.PortMap, func(e portmap.Event) { push(rawPortmap{e}) }, clk),
		rdvClient: rendezvous.NewClient(cfg.Rendezvous, func(e rendezvous.ClientEvent) { push(rawRendezvousClient{e}) }, clk),
		rdvServer: rendezvous.NewServer(cfg.Rendezvous, func(e rendezvous.ServerEvent) { push(rawRendezvousServer{e}) }, clk),
		gossip:    gossip.New(cfg.PubSub, func(e gossip.Event) { push(rawGossip{e}) }, clk),
		reqresp:   reqresp.New(cfg.Request, func(e reqresp.Event) { push(rawReqresp{e}) }, clk),
	}
}

// hostOptions 行为模块需要的 host 选项
func (b *behaviours) hostOptions(cfg *config.Config) ([]libp2p.Option, error) {
	opts := []libp2p.Option{libp2p.ConnectionGater(b.gater)}
	opts = append(opts, nat.HostOptions(cfg.NAT)...)
	opts = append(opts, identify.HostOptions(cfg.Identify)...)

	relayOpts, err := relay.HostOptions(cfg.Relay)
	if err != nil {
		return nil, err
	}
	return append(opts, relayOpts...), nil
}

// start 依次启动行为，失败时关闭已启动的部分
func (b *behaviours) start(h host.Host) error {
	b.gater.SetNetwork(h.Network())

	all := []behaviour{b.nat, b.identify, b.rdvClient}
	if b.rdvServer != nil {
		all = append(all, b.rdvServer)
	}
	all = append(all, b.gossip, b.reqresp)

	for _, bh := range all {
		if err := bh.Start(h); err != nil {
			return multierr.Append(err, b.close())
		}
		b.started = append(b.started, bh)
		log.Debug("行为已启动", "name", bh.Name())
	}
	return nil
}

// close 逆序关闭已启动的行为与端口映射
func (b *behaviours) close() error {
	var err error
	for i := len(b.started) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.started[i].Close())
	}
	b.started = nil
	if b.portmap != nil {
		err = multierr.Append(err, b.portmap.Close())
	}
	return err
}
