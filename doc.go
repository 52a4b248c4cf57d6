// Package overlay 提供事件驱动的 P2P 覆盖网络控制面
//
// 每个本地节点对应一个 Session。Session 组合连接准入、NAT 探测、端口映射、
// 中继与打洞、identify、rendezvous 会合点、GossipSub 发布/订阅与请求/响应，
// 所有网络事实经由同一条事件流交给应用。
//
// # 快速开始
//
//	kp, _ := identity.Generate(identity.Ed25519)
//	cfg := config.NewConfig()
//	cfg.Listen = []string{"/ip4/0.0.0.0/tcp/4001"}
//
//	reg := overlay.NewRegistry()
//	h, err := reg.Create(ctx, kp, cfg)
//	if err != nil {
//	    return err
//	}
//	defer reg.Dispose(h)
//
//	s, _ := reg.Get(h)
//	go s.Run(ctx, func(e overlay.Event) {
//	    switch e := e.(type) {
//	    case overlay.GossipMessage:
//	        _ = s.ValidateMessage(ctx, e.MessageID, e.PropagationSource, types.AcceptMessage)
//	    case overlay.RequestMessage:
//	        _ = s.SendResponse(ctx, e.Channel, []byte("pong"))
//	    }
//	})
//
// # 并发模型
//
//	libp2p 回调 / 行为模块 ──Push──▶ 无界队列 ──Pop──▶ 事件循环
//	                                               │ 持锁翻译
//	                                               ▼
//	命令 (持锁) ◀──────────── 观察者 (不持锁，同步调用)
//
// 命令与事件翻译共用一把互斥锁，命令之间、命令与翻译之间互斥。
// 观察者在锁外被顺序调用，可以在回调中直接发出命令。
//
// # 错误
//
// 同步失败以返回值报告，异步失败以事件报告，二者不会同时发生。
// 错误分类见 ErrInstanceNotFound、ErrBadAddress、ErrBadIdentity、
// ErrChannelMisuse 与 ErrProtocol，均可用 errors.Is 判断。
package overlay
