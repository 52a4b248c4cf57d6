// Package types 定义 overlay 的公共值类型
//
// 这是最底层的包，只依赖 go-libp2p core 与 go-multiaddr。
// 所有类型都是不可变的值类型，可以安全地按值在模块间共享。
//
// # 文件组织
//
//   - ids.go        - ConnectionID, ListenerID, MessageID, RequestID, TopicHash
//   - enums.go      - MessageAcceptance
//   - nat.go        - Reachability, NatStatus
//   - multiaddr.go  - 地址与节点 ID 解析
//   - discovery.go  - PeerRecord, Cookie
//   - errors.go     - 错误分类
//
// 句柄（ConnectionID、ListenerID）由签发它们的 Session 持有，
// 连接或监听器关闭后即失效。
package types
