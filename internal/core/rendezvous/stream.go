package rendezvous

import (
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/record"

	"github.com/dep2p/go-overlay/internal/util/frame"
	"github.com/dep2p/go-overlay/pkg/types"
)

func writeMessage(w io.Writer, m *message) error {
	return frame.Write(w, m.marshal())
}

func readMessage(r *frame.Reader) (*message, error) {
	b, err := r.Read()
	if err != nil {
		return nil, err
	}
	return unmarshalMessage(b)
}

// sealRecord 用本地私钥签名节点记录
func sealRecord(priv crypto.PrivKey, rec types.PeerRecord) ([]byte, error) {
	env, err := record.Seal(peer.PeerRecordFromAddrInfo(rec.AddrInfo()), priv)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: seal peer record: %w", err)
	}
	return env.Marshal()
}

// openRecord 验证签名并取出节点记录
func openRecord(data []byte) (types.PeerRecord, error) {
	_, rec, err := record.ConsumeEnvelope(data, peer.PeerRecordEnvelopeDomain)
	if err != nil {
		return types.PeerRecord{}, err
	}
	pr, ok := rec.(*peer.PeerRecord)
	if !ok {
		return types.PeerRecord{}, errors.New("envelope does not carry a peer record")
	}
	return types.PeerRecord{PeerID: pr.PeerID, Addrs: pr.Addrs}, nil
}
