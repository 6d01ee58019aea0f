// Package client is the embeddable library implementing the client
// protocol role: pairing and commit operations wrapped as
// synchronous entry points over a private, call-scoped P2P node. It
// each call owns its own runtime for the call's duration and tears it
// down on every return path.
package client

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/fieldops/emergency-git/config"
	"github.com/fieldops/emergency-git/identity"
	"github.com/fieldops/emergency-git/logging"
	"github.com/fieldops/emergency-git/p2p"
	"github.com/fieldops/emergency-git/protocol"
)

// ErrorKind discriminates the tagged CoreError variants: NetworkError,
// JsonError, and Timeout. Go has no native tagged union, so CoreError
// carries Kind as a field instead.
type ErrorKind string

const (
	KindNetworkError ErrorKind = "NetworkError"
	KindJSONError    ErrorKind = "JsonError"
	KindTimeout      ErrorKind = "Timeout"
)

// CoreError is the only error type that crosses the client package
// boundary; no other error type escapes Pair or Commit.
type CoreError struct {
	Kind    ErrorKind
	Message string
}

func (e *CoreError) Error() string { return string(e.Kind) + ": " + e.Message }

func networkError(format string, err error) *CoreError {
	msg := format
	if err != nil {
		msg = format + ": " + err.Error()
	}
	return &CoreError{Kind: KindNetworkError, Message: msg}
}

func jsonError(err error) *CoreError {
	return &CoreError{Kind: KindJSONError, Message: err.Error()}
}

func timeoutError() *CoreError {
	return &CoreError{Kind: KindTimeout, Message: "operation deadline exceeded"}
}

// Pair runs the pairing operation against the daemon reachable at
// daemonAddr (a fully-qualified /ip4/…/tcp/…/p2p/<peer-id> dial string),
// blocking until PairSuccess arrives, the deadline fires, or dial/publish
// fails.
func Pair(daemonAddr string) error {
	_, err := run(daemonAddr, protocol.PairRequest(), pairResolver)
	return err
}

// Commit runs the commit operation against the daemon reachable at
// daemonAddr, returning the resulting commit hash on success.
func Commit(daemonAddr, repoPath, filePath, newContent, message string) (string, error) {
	req := protocol.NewRequest(repoPath, filePath, newContent, message)
	return run(daemonAddr, req, commitResolver)
}

// pair resolves only on the PairSuccess discriminant.
func pairResolver(msg *protocol.Message) (string, bool) {
	return "", msg.Kind == protocol.KindPairSuccess
}

// commit resolves on any Response, carrying the commit hash on success
// and an empty string on failure (the caller maps failure to a
// NetworkError using msg.ErrorMessage).
func commitResolver(msg *protocol.Message) (string, bool) {
	if msg.Kind != protocol.KindResponse {
		return "", false
	}
	return msg.CommitHash, true
}

// resolver inspects an inbound Message and reports whether it is this
// call's terminal reply, returning the value to hand back on success.
type resolver func(msg *protocol.Message) (result string, resolved bool)

// run implements the shared pair/commit skeleton: identity,
// node bring-up, subscribe, direct dial, then a 20-second event loop that
// publishes the outbound envelope exactly once on first Subscribed event
// and resolves on the first message the resolver accepts.
func run(daemonAddr string, envelope *protocol.Message, resolve resolver) (string, error) {
	// Addressing is validated before any I/O: a malformed dial string fails
	// fast here instead of surfacing deep inside node bring-up.
	maddr, err := multiaddr.NewMultiaddr(daemonAddr)
	if err != nil {
		return "", networkError("invalid daemon address", err)
	}
	if _, err := peer.AddrInfoFromP2pAddr(maddr); err != nil {
		return "", networkError("invalid daemon address", err)
	}

	cfg := config.DefaultClientConfig()
	log := logging.New().Module("client")

	id, err := identity.LoadOrCreate(cfg.IdentityPath())
	if err != nil {
		return "", networkError("failed to load client identity", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.OperationDeadline)
	defer cancel()

	node, events, err := p2p.Start(ctx, "", id.PrivKey, p2p.RoleClient, log)
	if err != nil {
		return "", networkError("failed to start node", err)
	}
	defer node.Close()

	if err := node.Subscribe(config.Topic); err != nil {
		return "", networkError("failed to subscribe to topic", err)
	}

	if err := node.Dial(ctx, daemonAddr); err != nil {
		return "", networkError("failed to dial daemon", err)
	}

	envelopeBytes, err := protocol.Encode(envelope)
	if err != nil {
		return "", jsonError(err)
	}

	published := false
	deadline := time.NewTimer(config.OperationDeadline)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return "", timeoutError()
		case <-ctx.Done():
			return "", timeoutError()
		case evt, ok := <-events:
			if !ok {
				return "", networkError("node event stream closed", nil)
			}

			switch evt.Kind {
			case p2p.EventSubscribed:
				if !published {
					if err := node.Publish(ctx, config.Topic, envelopeBytes); err != nil {
						return "", networkError("failed to publish request", err)
					}
					published = true
				}
			case p2p.EventMessage:
				msg, err := protocol.Decode(evt.Data)
				if err != nil {
					continue
				}
				if result, resolved := resolve(msg); resolved {
					if msg.Kind == protocol.KindResponse && !msg.Success {
						return "", networkError(msg.ErrorMessage, nil)
					}
					return result, nil
				}
			}
		}
	}
}
