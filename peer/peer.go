// Package peer implements the PeerProtocol boundary the core consumes
// (§4.6): the engine never initiates network I/O, it only exposes entry
// points a peer adapter drives as blocks and transactions arrive over the
// wire. EngineProtocol is the reference binding of those entry points to a
// chain engine and store; Node is a libp2p gossipsub transport that calls
// straight into EngineProtocol as messages arrive on its topics.
package peer

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"chainkernel/core"
	"chainkernel/engine"
	"chainkernel/store"
)

// PeerProtocol is the interface the engine's host drives as the network
// layer learns of new blocks and transactions, and as peers request sync
// data from us (§4.6). The protocol owns its own routing, liveness and
// replacement caches; the core only ever calls these five methods.
type PeerProtocol interface {
	HandleReceivedBlock(block *core.Block) error
	HandleReceivedTx(tx *core.Transaction) error
	GetLocator() ([]core.HashDigest, error)
	FindNextHashes(locator []core.HashDigest, stop *core.HashDigest, count int64) ([]core.HashDigest, error)
	GetBlocksByHashes(hashes []core.HashDigest) ([]*core.Block, error)
}

// EngineProtocol is the reference PeerProtocol implementation: a received
// block is handed to the chain engine's Append (a block on a competing
// branch is rejected, see HandleReceivedBlock); a received tx is verified,
// persisted and staged for inclusion in the next mined block.
type EngineProtocol struct {
	Chain   *engine.Chain
	Store   store.Store
	Backend core.CryptoBackend
	Log     *logrus.Logger
}

// NewEngineProtocol builds an EngineProtocol; log may be nil.
func NewEngineProtocol(chain *engine.Chain, st store.Store, backend core.CryptoBackend, log *logrus.Logger) *EngineProtocol {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EngineProtocol{Chain: chain, Store: st, Backend: backend, Log: log}
}

// HandleReceivedBlock appends block to the engine's chain. A block that
// extends a competing branch rather than the current tip is rejected here;
// reorg handling (walking ancestors and calling engine.Fork) is the
// protocol adapter's responsibility once it detects the rival has greater
// cumulative difficulty, since only the adapter tracks multiple branches.
func (p *EngineProtocol) HandleReceivedBlock(block *core.Block) error {
	if err := p.Chain.Append(context.Background(), block); err != nil {
		return fmt.Errorf("peer: append received block %s: %w", block.Hash, err)
	}
	return nil
}

// HandleReceivedTx verifies tx's signature, then persists tx and stages it
// as broadcastable, pending inclusion in a future block. The signature is
// checked again when the tx's containing block is appended.
func (p *EngineProtocol) HandleReceivedTx(tx *core.Transaction) error {
	if err := tx.VerifySignature(p.Backend); err != nil {
		return fmt.Errorf("peer: received tx %s: %w", tx.Id, err)
	}
	if err := p.Store.PutTx(tx); err != nil {
		return fmt.Errorf("peer: put received tx: %w", err)
	}
	if err := p.Store.StageTxIDs(map[core.TxId]bool{tx.Id: true}); err != nil {
		return fmt.Errorf("peer: stage received tx: %w", err)
	}
	return nil
}

func (p *EngineProtocol) GetLocator() ([]core.HashDigest, error) { return p.Chain.Locator() }

func (p *EngineProtocol) FindNextHashes(locator []core.HashDigest, stop *core.HashDigest, count int64) ([]core.HashDigest, error) {
	return p.Chain.FindNextHashes(locator, stop, count)
}

func (p *EngineProtocol) GetBlocksByHashes(hashes []core.HashDigest) ([]*core.Block, error) {
	out := make([]*core.Block, 0, len(hashes))
	for _, h := range hashes {
		b, ok, err := p.Store.GetBlock(h)
		if err != nil {
			return nil, fmt.Errorf("peer: get block %s: %w", h, err)
		}
		if !ok {
			return nil, fmt.Errorf("peer: block %s not found", h)
		}
		out = append(out, b)
	}
	return out, nil
}

var _ PeerProtocol = (*EngineProtocol)(nil)

const (
	blockTopic = "chainkernel/blocks/v1"
	txTopic    = "chainkernel/txs/v1"
)

// Codec marshals/unmarshals blocks and transactions for the wire. Hosts
// supply one backed by the canonical encoding (§6); it is decoupled from
// Node so peer transport stays independent of the wire format choice.
type Codec interface {
	EncodeBlock(b *core.Block) ([]byte, error)
	DecodeBlock(data []byte) (*core.Block, error)
	EncodeTx(tx *core.Transaction) ([]byte, error)
	DecodeTx(data []byte) (*core.Transaction, error)
}

// CanonicalCodec is the Codec backed directly by the canonical block/
// transaction wire encoding (§6): Block.Encode/core.DecodeBlock for blocks,
// Transaction.SignedEncoding/core.DecodeTransaction for transactions.
type CanonicalCodec struct{}

func (CanonicalCodec) EncodeBlock(b *core.Block) ([]byte, error) { return b.Encode() }
func (CanonicalCodec) DecodeBlock(data []byte) (*core.Block, error) { return core.DecodeBlock(data) }
func (CanonicalCodec) EncodeTx(tx *core.Transaction) ([]byte, error) { return tx.SignedEncoding() }
func (CanonicalCodec) DecodeTx(data []byte) (*core.Transaction, error) {
	return core.DecodeTransaction(data)
}

var _ Codec = CanonicalCodec{}

// Node is a libp2p gossipsub transport driving a PeerProtocol as messages
// arrive on the block/tx topics.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	proto  PeerProtocol
	codec  Codec
	log    *logrus.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode creates and bootstraps a gossipsub node over proto, listening on
// listenAddr and dialing seeds.
func NewNode(listenAddr string, seeds []string, proto PeerProtocol, codec Codec, log *logrus.Logger) (*Node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("peer: create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("peer: create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		proto:  proto,
		codec:  codec,
		log:    log,
		topics: make(map[string]*pubsub.Topic),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, addr := range seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.Warnf("peer: invalid seed %s: %v", addr, err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			log.Warnf("peer: dial seed %s: %v", addr, err)
		}
	}

	if err := n.subscribeBlocks(); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.subscribeTxs(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) joinTopic(name string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(name)
	if err != nil {
		return nil, err
	}
	n.topics[name] = t
	return t, nil
}

func (n *Node) subscribeBlocks() error {
	t, err := n.joinTopic(blockTopic)
	if err != nil {
		return fmt.Errorf("peer: join block topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("peer: subscribe block topic: %w", err)
	}
	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == n.host.ID() {
				continue
			}
			b, err := n.codec.DecodeBlock(msg.Data)
			if err != nil {
				n.log.Warnf("peer: decode block: %v", err)
				continue
			}
			if err := n.proto.HandleReceivedBlock(b); err != nil {
				n.log.Warnf("peer: handle received block: %v", err)
			}
		}
	}()
	return nil
}

func (n *Node) subscribeTxs() error {
	t, err := n.joinTopic(txTopic)
	if err != nil {
		return fmt.Errorf("peer: join tx topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("peer: subscribe tx topic: %w", err)
	}
	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == n.host.ID() {
				continue
			}
			tx, err := n.codec.DecodeTx(msg.Data)
			if err != nil {
				n.log.Warnf("peer: decode tx: %v", err)
				continue
			}
			if err := n.proto.HandleReceivedTx(tx); err != nil {
				n.log.Warnf("peer: handle received tx: %v", err)
			}
		}
	}()
	return nil
}

// BroadcastBlock publishes a locally mined or appended block to peers.
func (n *Node) BroadcastBlock(b *core.Block) error {
	t, err := n.joinTopic(blockTopic)
	if err != nil {
		return fmt.Errorf("peer: join block topic: %w", err)
	}
	data, err := n.codec.EncodeBlock(b)
	if err != nil {
		return fmt.Errorf("peer: encode block: %w", err)
	}
	return t.Publish(n.ctx, data)
}

// BroadcastTx publishes a locally received transaction to peers.
func (n *Node) BroadcastTx(tx *core.Transaction) error {
	t, err := n.joinTopic(txTopic)
	if err != nil {
		return fmt.Errorf("peer: join tx topic: %w", err)
	}
	data, err := n.codec.EncodeTx(tx)
	if err != nil {
		return fmt.Errorf("peer: encode tx: %w", err)
	}
	return t.Publish(n.ctx, data)
}

// Close tears down the node.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}
