// Package p2p implements the shared networking substrate both the
// daemon and client roles embed: identity, transport bring-up, topic
// pub/sub, local and global discovery, and direct dial. It is grounded on
// the reference daemon's net.Host/dht.Server composition-by-struct idiom
// (net/host.go, dht/dht.go): one small struct per capability, background
// goroutines that fan every event into one channel, no internal locking
// because the node is single-owner.
package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	circuit "github.com/libp2p/go-libp2p-circuit"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/event"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	noise "github.com/libp2p/go-libp2p-noise"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/p2p/discovery"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	"github.com/fieldops/emergency-git/config"
	"github.com/fieldops/emergency-git/logging"
)

// Role selects which optional capabilities a Node brings up. The daemon
// serves as a circuit-relay hop for NAT-trapped clients; the client only
// consumes relayed connections.
type Role int

const (
	RoleDaemon Role = iota
	RoleClient
)

const mdnsServiceTag = "emergency-git-mdns"

// EventKind discriminates the abridged Node event surface.
type EventKind string

const (
	EventListening             EventKind = "Listening"
	EventDiscovered            EventKind = "Discovered"
	EventConnectionEstablished EventKind = "ConnectionEstablished"
	EventSubscribed            EventKind = "Subscribed"
	EventMessage               EventKind = "Message"
	EventIdentifyReceived      EventKind = "IdentifyReceived"
	EventIdentifyPushed        EventKind = "IdentifyPushed"
)

// Event is a tagged union over the Node's event surface. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Addr         multiaddr.Multiaddr
	Peers        []peer.ID
	PeerID       peer.ID
	Topic        string
	Source       peer.ID // empty means the message was anonymous
	Data         []byte
	ListenAddrs  []multiaddr.Multiaddr
	ObservedAddr multiaddr.Multiaddr
}

// Node is the composed P2P substrate: one field per capability, mirroring
// dht.Server's host+dht+log struct shape and net/parent2p's host-owning
// composition.
type Node struct {
	log    logging.Logger
	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	mdns   discovery.Service

	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	events chan Event
	cancel context.CancelFunc
}

// Start brings up the host, security, muxing, pub/sub, DHT, mDNS, and
// (for the daemon role) circuit-relay serving, then begins fanning every
// sub-capability's events into a single channel. Callers receive the
// event stream and the Node itself as the command sink (listen/dial/
// publish/subscribe/add_explicit_peer).
func Start(ctx context.Context, listenAddr string, priv crypto.PrivKey, role Role, log logging.Logger) (*Node, <-chan Event, error) {
	nodeCtx, cancel := context.WithCancel(ctx)

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Security(noise.ID, noise.New),
		libp2p.ProtocolVersion(config.ProtocolVersion),
	}
	if listenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddr))
	}
	if role == RoleDaemon {
		opts = append(opts, libp2p.EnableRelay(circuit.OptHop))
	} else {
		opts = append(opts, libp2p.EnableRelay())
	}

	h, err := libp2p.New(nodeCtx, opts...)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrap(err, "failed to create host")
	}

	ps, err := pubsub.NewGossipSub(nodeCtx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, nil, errors.Wrap(err, "failed to create pubsub router")
	}

	kad, err := dht.New(nodeCtx, h, dht.Mode(dht.ModeAuto))
	if err != nil {
		cancel()
		h.Close()
		return nil, nil, errors.Wrap(err, "failed to create dht")
	}

	n := &Node{
		log:    log,
		host:   h,
		pubsub: ps,
		dht:    kad,
		topics: map[string]*pubsub.Topic{},
		subs:   map[string]*pubsub.Subscription{},
		events: make(chan Event, 64),
		cancel: cancel,
	}

	mdnsSvc, err := discovery.NewMdnsService(nodeCtx, h, time.Second*10, mdnsServiceTag)
	if err != nil {
		n.log.Warn("mDNS discovery unavailable", "err", err.Error())
	} else {
		n.mdns = mdnsSvc
		mdnsSvc.RegisterNotifee(&mdnsNotifee{node: n})
	}

	go n.forwardHostEvents(nodeCtx)

	for _, addr := range h.Addrs() {
		n.events <- Event{Kind: EventListening, Addr: addr}
	}

	return n, n.events, nil
}

// mdnsNotifee adapts discovery.Notifee to the Node's unified event stream.
type mdnsNotifee struct{ node *Node }

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	m.node.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)
	select {
	case m.node.events <- Event{Kind: EventDiscovered, Peers: []peer.ID{pi.ID}}:
	default:
	}
}

// forwardHostEvents subscribes to the host's event bus and translates
// connection and identify events into the Node's event surface. It runs
// on its own goroutine and mutates no node state other than writing to
// the already-buffered events channel; Subscribe starts further
// goroutines that write to the same channel.
func (n *Node) forwardHostEvents(ctx context.Context) {
	sub, err := n.host.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerConnectednessChanged),
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtPeerIdentificationFailed),
	})
	if err != nil {
		n.log.Warn("failed to subscribe to host event bus", "err", err.Error())
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.Out():
			if !ok {
				return
			}
			switch evt := raw.(type) {
			case event.EvtPeerConnectednessChanged:
				if evt.Connectedness == network.Connected {
					n.events <- Event{Kind: EventConnectionEstablished, PeerID: evt.Peer}
				}
			case event.EvtPeerIdentificationCompleted:
				for _, addr := range evt.ListenAddrs {
					n.host.Peerstore().AddAddr(evt.Peer, addr, peerstore.ConnectedAddrTTL)
				}
				n.events <- Event{
					Kind:         EventIdentifyReceived,
					PeerID:       evt.Peer,
					ListenAddrs:  evt.ListenAddrs,
					ObservedAddr: evt.ObservedAddr,
				}
			}
		}
	}
}

// Listen adds a listener on addr to the running host and emits a
// Listening event for it; it serves hosts that want an additional
// listener after construction.
func (n *Node) Listen(addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return errors.Wrap(err, "invalid listen address")
	}
	if err := n.host.Network().Listen(maddr); err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	n.events <- Event{Kind: EventListening, Addr: maddr}
	return nil
}

// Dial directly connects to the peer described by a fully-qualified
// dial address of the form /ip4/.../tcp/.../p2p/<peer-id>.
func (n *Node) Dial(ctx context.Context, dialAddr string) error {
	maddr, err := multiaddr.NewMultiaddr(dialAddr)
	if err != nil {
		return errors.Wrap(err, "invalid dial address")
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return errors.Wrap(err, "dial address missing peer id")
	}

	n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	if err := n.host.Connect(ctx, *info); err != nil {
		return errors.Wrap(err, "connect failed")
	}

	return nil
}

// AddExplicitPeer seeds the peerstore with a peer the caller already knows
// the address of, makes one connection attempt to it (a failure is only
// logged), and adds it to the Kademlia routing table — used to seed
// bootstrap peers, following dht.Server.Bootstrap's AddAddrs-then-Connect
// idiom.
func (n *Node) AddExplicitPeer(addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return errors.Wrap(err, "invalid bootstrap address")
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return errors.Wrap(err, "invalid bootstrap address")
	}

	if info.ID == n.host.ID() {
		return nil
	}

	n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *info); err != nil {
		n.log.Warn("failed to connect to bootstrap peer", "peer", info.ID.Pretty(), "err", err.Error())
	}

	if _, err := n.dht.RoutingTable().TryAddPeer(info.ID, true); err != nil {
		n.log.Warn("failed to add bootstrap peer to routing table", "peer", info.ID.Pretty(), "err", err.Error())
	}

	return nil
}

// Bootstrap seeds the Kademlia routing table with the fixed public
// bootstrap peers, mirroring dht.Server.Bootstrap.
func (n *Node) Bootstrap(addrs []string) {
	for _, addr := range addrs {
		if err := n.AddExplicitPeer(addr); err != nil {
			n.log.Warn("bootstrap peer failed", "addr", addr, "err", err.Error())
		}
	}
	if err := n.dht.Bootstrap(context.Background()); err != nil {
		n.log.Warn("dht bootstrap failed", "err", err.Error())
	}
}

// Subscribe joins the given topic, returning once the subscription is
// active. Two background goroutines forward every inbound message and every
// peer-join (the Subscribed event, for the publish-on-first-
// subscribe gate) into the Node's event channel.
func (n *Node) Subscribe(topicName string) error {
	topic, err := n.pubsub.Join(topicName)
	if err != nil {
		return errors.Wrap(err, "failed to join topic")
	}
	n.topics[topicName] = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to topic")
	}
	n.subs[topicName] = sub

	go n.pumpMessages(topicName, sub)

	handler, err := topic.EventHandler()
	if err != nil {
		n.log.Warn("failed to get topic event handler", "topic", topicName, "err", err.Error())
		return nil
	}
	go n.pumpPeerEvents(topicName, handler)

	return nil
}

func (n *Node) pumpMessages(topicName string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(context.Background())
		if err != nil {
			return
		}

		var source peer.ID
		if msg.GetFrom() != "" {
			source = msg.GetFrom()
		}

		n.events <- Event{
			Kind:   EventMessage,
			Topic:  topicName,
			Source: source,
			Data:   msg.GetData(),
		}
	}
}

func (n *Node) pumpPeerEvents(topicName string, handler *pubsub.TopicEventHandler) {
	for {
		evt, err := handler.NextPeerEvent(context.Background())
		if err != nil {
			return
		}
		if evt.Type != pubsub.PeerJoin {
			continue
		}
		n.events <- Event{Kind: EventSubscribed, Topic: topicName, PeerID: evt.Peer}
	}
}

// Publish sends data on the given topic. The topic must already have been
// joined via Subscribe.
func (n *Node) Publish(ctx context.Context, topicName string, data []byte) error {
	topic, ok := n.topics[topicName]
	if !ok {
		return errors.Errorf("not subscribed to topic %q", topicName)
	}
	return topic.Publish(ctx, data)
}

// ID returns the node's own peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addrs returns the node's listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }

// FullAddr returns the node's dialable multiaddr, including its peer ID,
// following net.BasicHost.FullAddr.
func (n *Node) FullAddr() string {
	addrs := n.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0].String(), n.host.ID().Pretty())
}

// Close tears down every owned resource. A client operation defers this
// call, releasing sockets, listeners, and tasks on every return path.
func (n *Node) Close() error {
	n.cancel()
	if n.mdns != nil {
		n.mdns.Close()
	}
	if err := n.dht.Close(); err != nil {
		n.log.Warn("dht close failed", "err", err.Error())
	}
	return n.host.Close()
}
