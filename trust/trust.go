// Package trust implements the daemon's persistent, append-only set of
// peer identifiers it has approved, favoring human-auditable,
// pretty-printed on-disk state over an opaque binary format.
package trust

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// document is the on-disk shape of the trust store: a pretty-printed
// JSON object naming the trusted peer IDs, one per line in the rendered
// output so operators can audit it by eye.
type document struct {
	Peers []string `json:"peers"`
}

// Store is a daemon-private set of trusted peer IDs. It is never accessed
// concurrently (single event loop owner), so no internal locking is used.
type Store struct {
	path string
	set  map[string]struct{}
}

// Load reads the trust store at path. A missing file is not an error —
// it yields an empty set, matching the "absent file ⇒ empty set"
// lifecycle rule.
func Load(path string) (*Store, error) {
	s := &Store{path: path, set: map[string]struct{}{}}

	bz, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "failed to read trust store")
	}

	var doc document
	if err := json.Unmarshal(bz, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode trust store")
	}

	for _, p := range doc.Peers {
		s.set[p] = struct{}{}
	}

	return s, nil
}

// IsTrusted reports whether peerID has previously been paired.
func (s *Store) IsTrusted(peerID string) bool {
	_, ok := s.set[peerID]
	return ok
}

// Add inserts peerID into the trust store and rewrites the on-disk
// document in full before returning, so that the write-then-expose
// guarantee holds: no caller can observe the new member via IsTrusted
// before the file reflects it, and a failed write never exposes it at
// all. Adding an already-trusted peer is idempotent but still incurs one
// rewrite, per spec.
func (s *Store) Add(peerID string) error {
	staged := make(map[string]struct{}, len(s.set)+1)
	for p := range s.set {
		staged[p] = struct{}{}
	}
	staged[peerID] = struct{}{}

	if err := s.persist(staged); err != nil {
		return err
	}

	s.set = staged
	return nil
}

// Peers returns a sorted snapshot of the trusted peer IDs.
func (s *Store) Peers() []string {
	return peerList(s.set)
}

func peerList(set map[string]struct{}) []string {
	peers := make([]string, 0, len(set))
	for p := range set {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

func (s *Store) persist(set map[string]struct{}) error {
	doc := document{Peers: peerList(set)}

	bz, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode trust store")
	}

	// Rewrite atomically: write to a temp file in the same directory,
	// then rename over the target, so a crash mid-write never leaves a
	// truncated trust store behind.
	tmp := s.path + ".tmp"
	if err := ioutil.WriteFile(tmp, bz, 0600); err != nil {
		return errors.Wrap(err, "failed to write trust store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "failed to replace trust store")
	}

	return nil
}
