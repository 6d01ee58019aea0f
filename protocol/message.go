// Package protocol defines the tagged NetworkMessage sum exchanged on the
// shared topic and its wire encoding. Every variant encodes itself as an
// ordered msgpack tuple (discriminant, field…) via EncodeMulti/DecodeMulti
// — the same tagged-tuple idiom the reference daemon uses for its wire
// types (types.GPGPubKey, net/parent2p's HAND/ACKH/UPTL messages) instead
// of reflection-driven struct tags.
package protocol

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// Kind discriminates the four NetworkMessage variants.
type Kind string

const (
	KindPairRequest Kind = "PairRequest"
	KindPairSuccess Kind = "PairSuccess"
	KindRequest     Kind = "Request"
	KindResponse    Kind = "Response"
)

// Message is the tagged sum flowing on the shared topic. Exactly one of
// the variant-specific field groups is populated, selected by Kind.
type Message struct {
	Kind Kind

	// Request fields.
	RepoPath      string
	FilePath      string
	NewContent    string
	CommitMessage string

	// Response fields. Exactly one of CommitHash / ErrorMessage is
	// populated, consistent with Success.
	Success      bool
	CommitHash   string
	ErrorMessage string
}

// PairRequest builds a PairRequest message.
func PairRequest() *Message { return &Message{Kind: KindPairRequest} }

// PairSuccessMsg builds a PairSuccess message.
func PairSuccessMsg() *Message { return &Message{Kind: KindPairSuccess} }

// NewRequest builds a commit Request message.
func NewRequest(repoPath, filePath, newContent, commitMessage string) *Message {
	return &Message{
		Kind:          KindRequest,
		RepoPath:      repoPath,
		FilePath:      filePath,
		NewContent:    newContent,
		CommitMessage: commitMessage,
	}
}

// NewSuccessResponse builds a Response reporting a successful commit.
func NewSuccessResponse(commitHash string) *Message {
	return &Message{Kind: KindResponse, Success: true, CommitHash: commitHash}
}

// NewFailureResponse builds a Response reporting a failed commit.
func NewFailureResponse(errMessage string) *Message {
	return &Message{Kind: KindResponse, Success: false, ErrorMessage: errMessage}
}

// EncodeMsgpack implements msgpack.CustomEncoder. Each variant writes only
// its own fields after the discriminant, keeping the wire form compact.
func (m *Message) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch m.Kind {
	case KindPairRequest, KindPairSuccess:
		return enc.EncodeMulti(string(m.Kind))
	case KindRequest:
		return enc.EncodeMulti(string(m.Kind), m.RepoPath, m.FilePath, m.NewContent, m.CommitMessage)
	case KindResponse:
		return enc.EncodeMulti(string(m.Kind), m.Success, m.CommitHash, m.ErrorMessage)
	default:
		return errors.Errorf("cannot encode unknown message kind %q", m.Kind)
	}
}

// DecodeMsgpack implements msgpack.CustomDecoder. Unknown discriminants
// are reported as an error to the caller; callers on the inbound path are
// expected to drop such errors silently per the protocol's defense-in-depth
// policy for malformed shared-topic traffic.
func (m *Message) DecodeMsgpack(dec *msgpack.Decoder) error {
	var kind string
	if err := dec.Decode(&kind); err != nil {
		return errors.Wrap(err, "failed to decode message discriminant")
	}

	m.Kind = Kind(kind)
	switch m.Kind {
	case KindPairRequest, KindPairSuccess:
		return nil
	case KindRequest:
		return dec.DecodeMulti(&m.RepoPath, &m.FilePath, &m.NewContent, &m.CommitMessage)
	case KindResponse:
		return dec.DecodeMulti(&m.Success, &m.CommitHash, &m.ErrorMessage)
	default:
		return errors.Errorf("unknown message kind %q", kind)
	}
}

// Encode renders m as its canonical wire bytes.
func Encode(m *Message) ([]byte, error) {
	bz, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return bz, nil
}

// Decode parses wire bytes into a Message. Malformed payloads — including
// unknown discriminants — return an error; callers on the data plane
// should treat any Decode error as "drop this message silently".
func Decode(bz []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(bz, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode message")
	}
	return &m, nil
}
