package identity

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-overlay/pkg/types"
)

var (
	// ErrUnsupportedKeyType 不支持的算法
	ErrUnsupportedKeyType = fmt.Errorf("%w: unsupported key type", types.ErrBadIdentity)

	// ErrInvalidKey 密钥字节无法按该算法的编码解析
	ErrInvalidKey = fmt.Errorf("%w: invalid key material", types.ErrBadIdentity)

	// ErrNilKey 空密钥
	ErrNilKey = errors.New("identity: nil key")
)
