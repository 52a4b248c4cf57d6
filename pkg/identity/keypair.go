package identity

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const rsaBits = 2048

// oidSecp256k1 SEC 2 曲线 secp256k1
var oidSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

// Keypair 节点密钥对
//
// 值不可变，可在 goroutine 间共享。
type Keypair struct {
	priv crypto.PrivKey
}

// Generate 用新生成的密钥材料创建密钥对
func Generate(kt KeyType) (*Keypair, error) {
	typ, err := kt.libp2p()
	if err != nil {
		return nil, err
	}
	priv, _, err := crypto.GenerateKeyPairWithReader(typ, rsaBits, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", kt, err)
	}
	return &Keypair{priv: priv}, nil
}

// FromBytes 按算法特定编码解析原始密钥字节
//
// 支持的编码：
//   - Ed25519: 32 字节种子或 64 字节私钥
//   - RSA: PKCS#8 DER（兼容 PKCS#1 DER）
//   - Secp256k1: 32 字节标量或 SEC1 ECPrivateKey DER
//   - ECDSA: SEC1 或 PKCS#8 DER
func FromBytes(kt KeyType, raw []byte) (*Keypair, error) {
	var (
		priv crypto.PrivKey
		err  error
	)
	switch kt {
	case Ed25519:
		priv, err = ed25519FromBytes(raw)
	case RSA:
		priv, err = rsaFromDER(raw)
	case Secp256k1:
		priv, err = secp256k1FromBytes(raw)
	case ECDSA:
		priv, err = ecdsaFromDER(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, kt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, kt, err)
	}
	return &Keypair{priv: priv}, nil
}

func ed25519FromBytes(raw []byte) (crypto.PrivKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(raw))
	case ed25519.PrivateKeySize:
		return crypto.UnmarshalEd25519PrivateKey(raw)
	default:
		return nil, fmt.Errorf("expected %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func rsaFromDER(raw []byte) (crypto.PrivKey, error) {
	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS8PrivateKey(raw); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("pkcs8 key is %T, not RSA", k)
		}
		key = rk
	} else {
		rk, err1 := x509.ParsePKCS1PrivateKey(raw)
		if err1 != nil {
			return nil, err
		}
		key = rk
	}
	if key.N.BitLen() < crypto.MinRsaKeyBits {
		return nil, fmt.Errorf("rsa key of %d bits is below minimum %d", key.N.BitLen(), crypto.MinRsaKeyBits)
	}
	priv, _, err := crypto.KeyPairFromStdKey(key)
	return priv, err
}

// ecPrivateKey RFC 5915 ECPrivateKey
type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

func secp256k1FromBytes(raw []byte) (crypto.PrivKey, error) {
	if len(raw) == 32 {
		return crypto.UnmarshalSecp256k1PrivateKey(raw)
	}

	var der ecPrivateKey
	rest, err := asn1.Unmarshal(raw, &der)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing %d bytes after ECPrivateKey", len(rest))
	}
	if der.Version != 1 {
		return nil, fmt.Errorf("unknown ECPrivateKey version %d", der.Version)
	}
	if len(der.NamedCurveOID) > 0 && !der.NamedCurveOID.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("curve %s is not secp256k1", der.NamedCurveOID)
	}
	if len(der.PrivateKey) == 0 || len(der.PrivateKey) > 32 {
		return nil, fmt.Errorf("private scalar of %d bytes", len(der.PrivateKey))
	}

	scalar := make([]byte, 32)
	copy(scalar[32-len(der.PrivateKey):], der.PrivateKey)
	return crypto.UnmarshalSecp256k1PrivateKey(scalar)
}

func ecdsaFromDER(raw []byte) (crypto.PrivKey, error) {
	var key *ecdsa.PrivateKey
	if k, err := x509.ParseECPrivateKey(raw); err == nil {
		key = k
	} else {
		pk, err1 := x509.ParsePKCS8PrivateKey(raw)
		if err1 != nil {
			return nil, err
		}
		ek, ok := pk.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("pkcs8 key is %T, not ECDSA", pk)
		}
		key = ek
	}
	priv, _, err := crypto.KeyPairFromStdKey(key)
	return priv, err
}

// Import 从互换编码导入密钥对
func Import(data []byte) (*Keypair, error) {
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: import: %v", ErrInvalidKey, err)
	}
	return &Keypair{priv: priv}, nil
}

// FromPrivKey 包装已有的 libp2p 私钥
func FromPrivKey(priv crypto.PrivKey) (*Keypair, error) {
	if priv == nil {
		return nil, ErrNilKey
	}
	return &Keypair{priv: priv}, nil
}

// Export 导出为互换编码（libp2p protobuf）
func (k *Keypair) Export() ([]byte, error) {
	return crypto.MarshalPrivateKey(k.priv)
}

// Type 返回密钥算法
func (k *Keypair) Type() KeyType {
	return keyTypeOf(k.priv)
}

// Sign 对任意字节签名
func (k *Keypair) Sign(msg []byte) ([]byte, error) {
	return k.priv.Sign(msg)
}

// Public 返回公钥
func (k *Keypair) Public() *PublicKey {
	return &PublicKey{pub: k.priv.GetPublic()}
}

// PeerID 返回由公钥派生的节点 ID
func (k *Keypair) PeerID() peer.ID {
	id, err := peer.IDFromPrivateKey(k.priv)
	if err != nil {
		// 仅在 libp2p 不认识该密钥类型时发生，构造函数已排除
		panic(fmt.Sprintf("identity: derive peer id: %v", err))
	}
	return id
}

// PrivKey 返回底层 libp2p 私钥，供主机构造使用
func (k *Keypair) PrivKey() crypto.PrivKey {
	return k.priv
}

// Equal 比较两个密钥对
func (k *Keypair) Equal(o *Keypair) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.priv.Equals(o.priv)
}

// ============================================================================
//                              PublicKey
// ============================================================================

// PublicKey 节点公钥
type PublicKey struct {
	pub crypto.PubKey
}

// PublicKeyFromBytes 从 protobuf 编码解析公钥
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	pub, err := crypto.UnmarshalPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
	}
	return &PublicKey{pub: pub}, nil
}

// Verify 验证签名
//
// 格式错误的签名返回 false 而不是错误。
func (p *PublicKey) Verify(msg, sig []byte) bool {
	ok, err := p.pub.Verify(msg, sig)
	return err == nil && ok
}

// Bytes 返回 protobuf 编码
func (p *PublicKey) Bytes() ([]byte, error) {
	return crypto.MarshalPublicKey(p.pub)
}

// PeerID 返回由公钥派生的节点 ID
func (p *PublicKey) PeerID() (peer.ID, error) {
	return peer.IDFromPublicKey(p.pub)
}

// Type 返回密钥算法
func (p *PublicKey) Type() KeyType {
	return keyTypeOf(p.pub)
}

// RandomPeerID 生成随机节点 ID
func RandomPeerID() (peer.ID, error) {
	k, err := Generate(Ed25519)
	if err != nil {
		return "", err
	}
	return k.PeerID(), nil
}
