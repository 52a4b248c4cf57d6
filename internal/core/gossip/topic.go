package gossip

import (
	"encoding/base64"

	"github.com/minio/sha256-simd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/types"
)

// Hasher 主题名到主题哈希的映射
type Hasher func(topic string) types.TopicHash

// IdentityHash 主题名即哈希
func IdentityHash(topic string) types.TopicHash {
	return types.TopicHash(topic)
}

// SHA256Hash base64(sha256(TopicDescriptor{name}))
func SHA256Hash(topic string) types.TopicHash {
	// TopicDescriptor 只设置 name = 1
	desc := protowire.AppendTag(nil, 1, protowire.BytesType)
	desc = protowire.AppendString(desc, topic)
	sum := sha256.Sum256(desc)
	return types.TopicHash(base64.StdEncoding.EncodeToString(sum[:]))
}

// HasherFor 按配置返回哈希方式
func HasherFor(mode string) Hasher {
	if mode == config.TopicHashSHA256 {
		return SHA256Hash
	}
	return IdentityHash
}
