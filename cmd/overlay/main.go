// Package main 提供 overlay 命令行入口
//
// 启动一个 Session，按参数监听、加入主题并向会合点注册，
// 把收到的事件写入日志，直到收到退出信号。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"

	overlay "github.com/dep2p/go-overlay"
	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/types"
)

var log = logger.Logger("cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 配置依次来自配置文件、预设、OVERLAY_* 环境变量与命令行参数，后者覆盖前者。
var (
	configFile   = flag.String("config", "", "配置文件路径（JSON）")
	preset       = flag.String("preset", "", "预设配置 (minimal/server)")
	identityFile = flag.String("identity", "", "身份密钥文件路径，不存在时生成")
	listen       = flag.String("listen", "", "监听地址，逗号分隔")
	dial         = flag.String("dial", "", "启动后拨号的地址，逗号分隔")
	topics       = flag.String("topics", "", "订阅的主题，逗号分隔")
	rendezvous   = flag.String("rendezvous", "", "会合点地址（带 /p2p/）")
	namespace    = flag.String("namespace", "overlay", "会合点命名空间")
	logLevel     = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	showHelp     = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return nil
	}

	if *logLevel != "" {
		lv, ok := logger.ParseLevel(*logLevel)
		if !ok {
			return fmt.Errorf("未知日志级别: %s", *logLevel)
		}
		logger.SetGlobalLevel(lv)
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}
	kp, err := loadIdentity(firstNonEmpty(*identityFile, os.Getenv(envIdentityFile)))
	if err != nil {
		return fmt.Errorf("加载身份失败: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := overlay.New(ctx, kp, cfg)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = s.Close() }()

	log.Info("节点已启动", "peer", kp.PeerID(), "session", s.ID())

	loopDone := make(chan error, 1)
	go func() {
		outcome, err := s.Run(ctx, newObserver(ctx, s))
		log.Debug("事件循环结束", "outcome", outcome)
		loopDone <- err
	}()

	if err := bootstrap(ctx, s); err != nil {
		return err
	}

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	select {
	case <-ctx.Done():
	case err := <-loopDone:
		if err != nil {
			return err
		}
	}
	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildConfig 依次应用预设、配置文件、环境变量与命令行参数
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		if cfg, err = loadConfigFile(*configFile); err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}

	name := firstNonEmpty(*preset, os.Getenv(envPreset))
	if err := config.ApplyPreset(cfg, name); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if *listen != "" {
		cfg.Listen = splitAndTrim(*listen, ",")
	}
	if len(cfg.Listen) == 0 {
		cfg.Listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	return cfg, cfg.Validate()
}

// bootstrap 执行启动后的拨号、订阅与注册
func bootstrap(ctx context.Context, s *overlay.Session) error {
	for _, addr := range splitAndTrim(*dial, ",") {
		if _, err := s.DialAddress(ctx, addr); err != nil {
			return fmt.Errorf("拨号 %s: %w", addr, err)
		}
	}
	for _, topic := range splitAndTrim(*topics, ",") {
		if _, _, err := s.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf("订阅 %s: %w", topic, err)
		}
	}
	if *rendezvous != "" {
		if _, err := s.DialAddress(ctx, *rendezvous); err != nil {
			return fmt.Errorf("拨号会合点: %w", err)
		}
	}
	return nil
}

// newObserver 记录事件；连上会合点后注册并查询
//
// observer 在锁外调用，可以直接发起命令。
func newObserver(ctx context.Context, s *overlay.Session) overlay.Observer {
	var rdv peer.ID
	if *rendezvous != "" {
		if id, _, err := types.ParseP2PAddr(*rendezvous); err == nil {
			rdv = id
		}
	}

	return func(ev overlay.Event) {
		if e, ok := ev.(overlay.ConnectionEstablished); ok && rdv != "" && e.PeerID == rdv && e.NumEstablished == 1 {
			node := rdv.String()
			if err := s.RendezvousRegister(ctx, node, *namespace, 0); err != nil {
				log.Warn("注册失败", "node", node, "err", err)
			}
			if err := s.RendezvousDiscover(ctx, node, *namespace, nil, 0); err != nil {
				log.Warn("查询失败", "node", node, "err", err)
			}
		}
		logEvent(ev)
	}
}

func logEvent(ev overlay.Event) {
	switch e := ev.(type) {
	case overlay.ConnectionEstablished:
		log.Info("连接建立", "peer", e.PeerID, "conn", e.ConnectionID, "in", e.EstablishedIn)
	case overlay.ConnectionClosed:
		log.Info("连接关闭", "peer", e.PeerID, "conn", e.ConnectionID, "cause", e.Cause)
	case overlay.NewListenAddr:
		log.Info("监听地址", "listener", e.ListenerID, "addr", e.Address)
	case overlay.GossipMessage:
		log.Info("收到消息", "topic", e.Topic, "from", e.Source, "size", len(e.Data))
	case overlay.RendezvousRegistered:
		log.Info("已注册", "node", e.RendezvousNode, "ns", e.Namespace, "ttl", e.TTL)
	case overlay.RendezvousRegisterFailed:
		log.Warn("注册被拒绝", "node", e.RendezvousNode, "ns", e.Namespace, "err", e.Error)
	case overlay.RendezvousDiscovered:
		log.Info("发现节点", "node", e.RendezvousNode, "count", len(e.Registrations))
		for _, r := range e.Registrations {
			log.Info("注册", "peer", r.Record.PeerID, "ns", r.Namespace, "addrs", r.Record.Addrs)
		}
	case overlay.OutgoingConnectionError:
		log.Warn("拨号失败", "peer", e.PeerID, "conn", e.ConnectionID, "err", e.Error)
	case overlay.ListenerError:
		log.Warn("监听失败", "listener", e.ListenerID, "err", e.Error)
	default:
		log.Debug("事件", "name", ev.EventName())
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
