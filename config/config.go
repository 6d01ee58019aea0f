// Package config centralizes the daemon and client's tunables: data
// directory, listen address, pairing mode, and the protocol-level
// constants (topic name, protocol version, bootstrap peers) both roles
// share.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppName is the application's name. Neither the default data directory
// nor any environment variable name is derived from it.
const AppName = "emergency-git"

// Topic is the single pub/sub topic shared by every peer in the protocol.
const Topic = "emergency-git-commits"

// ProtocolVersion is advertised by the identify capability on connect.
const ProtocolVersion = "/emergency-git/1.0"

// ClientIdentityFile is the well-known client identity key file name,
// relative to the client's working directory.
const ClientIdentityFile = "client_identity.key"

// TrustedPeersFile is the well-known daemon trust-store file name,
// relative to the daemon's working directory.
const TrustedPeersFile = "trusted_peers.json"

// OperationDeadline is the client's wall-clock deadline for pair/commit.
const OperationDeadline = 20 * time.Second

// DefaultDataDir is the daemon's and client's data directory absent an
// explicit --data-dir override: the process's own working directory, so
// trusted_peers.json and client_identity.key land relative to wherever the
// process was started, per spec.
var DefaultDataDir = "."

// BootstrapPeers are the fixed, public Kademlia seed peers, reproduced
// verbatim from the protocol specification. The daemon bootstraps from
// them at startup; the client does not bootstrap its node from them.
var BootstrapPeers = []string{
	"/ip4/104.131.131.82/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt",
}

// DaemonConfig holds the daemon process's runtime settings, read through
// viper from the cobra flags bound to it (no environment variables are
// bound), following the teacher's Configure()-populates-a-struct idiom.
type DaemonConfig struct {
	// ListenAddress is the multiaddr the P2P node listens on.
	ListenAddress string

	// PairingMode gates whether PairRequest messages are honored. Set by
	// the --pair flag, immutable for the process lifetime.
	PairingMode bool

	// DataDir is the daemon's working directory; TrustedPeersFile is
	// resolved relative to it.
	DataDir string

	// BootstrapPeers overrides config.BootstrapPeers, mainly for tests.
	BootstrapPeers []string
}

// NewDaemonConfigFromViper builds a DaemonConfig from bound viper state,
// reading viper only once at startup and passing a concrete struct down
// into the rest of the program afterward.
func NewDaemonConfigFromViper() *DaemonConfig {
	dataDir := viper.GetString("data-dir")
	if dataDir == "" {
		dataDir = DefaultDataDir
	}

	bootstrap := BootstrapPeers
	if extra := viper.GetString("bootstrap-peers"); extra != "" {
		bootstrap = strings.Split(extra, ",")
	}

	return &DaemonConfig{
		ListenAddress:  viper.GetString("listen"),
		PairingMode:    viper.GetBool("pair"),
		DataDir:        dataDir,
		BootstrapPeers: bootstrap,
	}
}

// TrustedPeersPath returns the resolved path to the daemon's trust store.
func (c *DaemonConfig) TrustedPeersPath() string {
	return filepath.Join(c.DataDir, TrustedPeersFile)
}

// ClientConfig holds the client's runtime settings.
type ClientConfig struct {
	// DataDir is the client's working directory; ClientIdentityFile is
	// resolved relative to it.
	DataDir string

	// BootstrapPeers overrides config.BootstrapPeers, mainly for tests.
	BootstrapPeers []string
}

// IdentityPath returns the resolved path to the client's persistent identity.
func (c *ClientConfig) IdentityPath() string {
	return filepath.Join(c.DataDir, ClientIdentityFile)
}

// DefaultClientConfig returns a ClientConfig rooted at DefaultDataDir.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{DataDir: DefaultDataDir, BootstrapPeers: BootstrapPeers}
}
