// Package identity manages the long-lived asymmetric keypair each peer
// uses to derive its stable peer identifier, following the same
// generate-or-load-from-file idiom the reference daemon applies to its
// validator and account keys (crypto/ed25519, keystore).
package identity

import (
	"io/ioutil"
	"os"

	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
)

// Identity wraps a peer's private key and its derived peer ID.
type Identity struct {
	PrivKey crypto.PrivKey
	ID      peer.ID
}

// ErrKeyStore is returned when a persisted identity file exists but
// cannot be decoded, so that a corrupt key store is never silently
// papered over by regenerating a new identity.
var ErrKeyStore = errors.New("key-store failure: identity file is not a valid key encoding")

// Generate creates a fresh, unpersisted Ed25519 identity. The daemon uses
// this on every process start; its identity is not meant to be durable.
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate identity key")
	}
	return fromPrivKey(priv)
}

// LoadOrCreate loads the identity persisted at path, or creates and
// persists a new one if no file exists yet. A file that exists but fails
// to decode is reported as ErrKeyStore rather than silently replaced,
// per the PeerIdentity invariant.
func LoadOrCreate(path string) (*Identity, error) {
	bz, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createAndPersist(path)
		}
		return nil, errors.Wrap(err, "failed to read identity file")
	}

	priv, err := crypto.UnmarshalPrivateKey(bz)
	if err != nil {
		return nil, errors.Wrap(ErrKeyStore, err.Error())
	}

	return fromPrivKey(priv)
}

func createAndPersist(path string) (*Identity, error) {
	id, err := Generate()
	if err != nil {
		return nil, err
	}

	bz, err := crypto.MarshalPrivateKey(id.PrivKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal identity key")
	}

	if err := ioutil.WriteFile(path, bz, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to persist identity file")
	}

	return id, nil
}

func fromPrivKey(priv crypto.PrivKey) (*Identity, error) {
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive peer id")
	}
	return &Identity{PrivKey: priv, ID: id}, nil
}
