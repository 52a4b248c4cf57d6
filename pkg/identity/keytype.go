// Package identity 提供节点身份：密钥对、签名验签与节点 ID
//
// 密钥基于 go-libp2p core/crypto，导出格式为 libp2p 的 protobuf 互换编码，
// import(export(k)) 与 k 在所有操作上不可区分。
package identity

import (
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// KeyType 密钥算法
type KeyType int

const (
	// Ed25519 默认算法
	Ed25519 KeyType = iota
	// RSA 2048 位
	RSA
	// Secp256k1 椭圆曲线 secp256k1
	Secp256k1
	// ECDSA P-256
	ECDSA
)

// String 返回算法名称
func (kt KeyType) String() string {
	switch kt {
	case Ed25519:
		return "Ed25519"
	case RSA:
		return "RSA"
	case Secp256k1:
		return "Secp256k1"
	case ECDSA:
		return "ECDSA"
	default:
		return fmt.Sprintf("KeyType(%d)", int(kt))
	}
}

// ParseKeyType 解析算法名称（大小写不敏感）
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(s) {
	case "ed25519":
		return Ed25519, nil
	case "rsa":
		return RSA, nil
	case "secp256k1":
		return Secp256k1, nil
	case "ecdsa":
		return ECDSA, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, s)
	}
}

func (kt KeyType) libp2p() (int, error) {
	switch kt {
	case Ed25519:
		return crypto.Ed25519, nil
	case RSA:
		return crypto.RSA, nil
	case Secp256k1:
		return crypto.Secp256k1, nil
	case ECDSA:
		return crypto.ECDSA, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, kt)
	}
}

func keyTypeOf(k crypto.Key) KeyType {
	switch k.Type() {
	case crypto.RSA:
		return RSA
	case crypto.Secp256k1:
		return Secp256k1
	case crypto.ECDSA:
		return ECDSA
	default:
		return Ed25519
	}
}
