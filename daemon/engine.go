// Package daemon implements the daemon-side protocol engine: the
// event dispatch loop reacting to messages on the shared topic, the
// interactive pairing dialog, and commit authorization against the trust
// store. It is grounded on net/parent2p.BasicParent2P's
// New-registers-a-handler idiom and dht.Server's retry-ticker style for
// the bounded PairSuccess republish.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/libp2p/go-libp2p-core/peer"

	"github.com/fieldops/emergency-git/config"
	"github.com/fieldops/emergency-git/logging"
	"github.com/fieldops/emergency-git/p2p"
	"github.com/fieldops/emergency-git/protocol"
)

// Publisher is the subset of *p2p.Node the engine needs, accepted as an
// interface so the engine can be driven by a fake in tests without a real
// libp2p node.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// TrustStore is the subset of *trust.Store the engine needs.
type TrustStore interface {
	IsTrusted(peerID string) bool
	Add(peerID string) error
}

// CommitExecutor is the subset of *commitexec.Executor the engine needs.
type CommitExecutor interface {
	PerformCommit(repoPath, relativeFilePath, newContent, message string) (string, error)
}

// pairSuccessRetries and pairSuccessInterval bound the PairSuccess
// republish attempts: pairing is the one moment a lost packet leaves the
// operator believing it worked while the client quietly times out.
const (
	pairSuccessRetries  = 5
	pairSuccessInterval = 500 * time.Millisecond
)

// promptFunc reads one line of operator input for the pairing dialog,
// mirroring the reference keystore package's injectable promptFunc so the
// dialog can be driven by a fake in tests instead of os.Stdin.
type promptFunc func() (string, error)

func readStdinLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Engine is the daemon's protocol engine. It owns no node-internal state;
// the node, trust store, and pairing-mode flag are constructor arguments,
// per the "no global singletons" design note.
type Engine struct {
	node        Publisher
	trust       TrustStore
	executor    CommitExecutor
	pairingMode bool
	log         logging.Logger
	prompt      promptFunc
}

// New constructs a daemon protocol engine.
func New(node Publisher, trustStore TrustStore, executor CommitExecutor, pairingMode bool, log logging.Logger) *Engine {
	return &Engine{node: node, trust: trustStore, executor: executor, pairingMode: pairingMode, log: log, prompt: readStdinLine}
}

// Run drives the daemon's event loop until events is closed or ctx is
// canceled. It never returns an error: every failure here is either
// logged (commit-executor/publish failures) or fatal at a higher layer (handled by the
// caller before Run is entered).
func (e *Engine) Run(ctx context.Context, events <-chan p2p.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind != p2p.EventMessage {
				continue
			}
			e.handleMessage(ctx, evt)
		}
	}
}

func (e *Engine) handleMessage(ctx context.Context, evt p2p.Event) {
	// Anonymity rejection: messages with no source never cause a state
	// change.
	if evt.Source == "" {
		e.log.Warn("dropping anonymous message")
		return
	}

	msg, err := protocol.Decode(evt.Data)
	if err != nil {
		// Malformed payloads are dropped silently; such traffic may
		// originate from other subscribers of the shared topic.
		return
	}

	switch msg.Kind {
	case protocol.KindPairRequest:
		e.handlePairRequest(ctx, evt.Source)
	case protocol.KindRequest:
		// The filesystem commit is long-running synchronous work, so it is
		// offloaded the same way the pairing prompt is: on its own
		// goroutine, keeping the dispatch loop responsive to other topic
		// traffic while it runs.
		go e.handleRequest(ctx, evt.Source, msg)
	case protocol.KindResponse, protocol.KindPairSuccess:
		// Echoed back because all peers share one topic; the daemon has
		// no use for its own replies.
	}
}

func (e *Engine) handlePairRequest(ctx context.Context, source peer.ID) {
	if !e.pairingMode {
		e.log.Info("ignoring PairRequest: not in pairing mode", "peer", source.Pretty())
		return
	}

	// The terminal prompt blocks exclusively on operator input and must
	// never block the event loop, so it runs on its own goroutine.
	go e.runPairingDialog(ctx, source)
}

// runPairingDialog is the PairingDialog sub-protocol: prompt the operator,
// and on affirmative input, trust the peer and republish PairSuccess with
// bounded retry.
func (e *Engine) runPairingDialog(ctx context.Context, source peer.ID) {
	fmt.Println(color.HiBlackString("Pairing request from %s", source.Pretty()))
	fmt.Print(color.HiBlackString("Trust this peer? [y/N]: "))

	line, err := e.prompt()
	if err != nil {
		e.log.Warn("failed to read pairing response", "err", err.Error())
		return
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" {
		e.log.Info("pairing request denied", "peer", source.Pretty())
		return
	}

	if err := e.trust.Add(source.String()); err != nil {
		e.log.Error("failed to persist trust store", "peer", source.Pretty(), "err", err.Error())
		return
	}

	e.publishPairSuccessWithRetry(ctx)
}

func (e *Engine) publishPairSuccessWithRetry(ctx context.Context) {
	bz, err := protocol.Encode(protocol.PairSuccessMsg())
	if err != nil {
		e.log.Error("failed to encode PairSuccess", "err", err.Error())
		return
	}

	for attempt := 1; attempt <= pairSuccessRetries; attempt++ {
		if err := e.node.Publish(ctx, config.Topic, bz); err == nil {
			return
		} else if attempt == pairSuccessRetries {
			e.log.Error("PairSuccess publish exhausted retries", "attempts", attempt, "err", err.Error())
			return
		}
		time.Sleep(pairSuccessInterval)
	}
}

func (e *Engine) handleRequest(ctx context.Context, source peer.ID, msg *protocol.Message) {
	if !e.trust.IsTrusted(source.String()) {
		e.log.Info("IGNORING Request from untrusted peer", "peer", source.Pretty())
		return
	}

	hash, err := e.executor.PerformCommit(msg.RepoPath, msg.FilePath, msg.NewContent, msg.CommitMessage)
	var resp *protocol.Message
	if err != nil {
		e.log.Error("commit executor failed", "peer", source.Pretty(), "err", err.Error())
		resp = protocol.NewFailureResponse(err.Error())
	} else {
		resp = protocol.NewSuccessResponse(hash)
	}

	bz, err := protocol.Encode(resp)
	if err != nil {
		e.log.Error("failed to encode Response", "err", err.Error())
		return
	}

	// Response publish failures are not retried: the client will retry
	// the whole operation end to end.
	if err := e.node.Publish(ctx, config.Topic, bz); err != nil {
		e.log.Error("failed to publish Response", "err", err.Error())
	}
}
