package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"

	"github.com/fieldops/emergency-git/logging"
	"github.com/fieldops/emergency-git/protocol"
)

// whitebox tests for the pairing dialog, exercised directly (not through
// Run's goroutine dispatch) via the unexported promptFunc injection point —
// mirrors the reference keystore package's testPrompt2 idiom.

type recordingPublisher struct {
	published [][]byte
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	r.published = append(r.published, data)
	return nil
}

type recordingTrustStore struct {
	added []string
}

func (r *recordingTrustStore) IsTrusted(string) bool { return false }
func (r *recordingTrustStore) Add(peerID string) error {
	r.added = append(r.added, peerID)
	return nil
}

func testPrompt(answer string) promptFunc {
	return func() (string, error) { return answer, nil }
}

const pairingTestPeer = peer.ID("12D3KooWPairingTestPeer11111111111111111111")

func TestRunPairingDialog_Accept(t *testing.T) {
	pub := &recordingPublisher{}
	trust := &recordingTrustStore{}
	e := New(pub, trust, nil, true, logging.New())
	e.prompt = testPrompt("y")

	e.runPairingDialog(context.Background(), pairingTestPeer)

	if len(trust.added) != 1 || trust.added[0] != pairingTestPeer.String() {
		t.Fatalf("expected peer to be trusted, got %v", trust.added)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected exactly one PairSuccess publish, got %d", len(pub.published))
	}

	msg, err := protocol.Decode(pub.published[0])
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != protocol.KindPairSuccess {
		t.Fatalf("expected PairSuccess, got %s", msg.Kind)
	}
}

func TestRunPairingDialog_Deny(t *testing.T) {
	pub := &recordingPublisher{}
	trust := &recordingTrustStore{}
	e := New(pub, trust, nil, true, logging.New())
	e.prompt = testPrompt("n")

	e.runPairingDialog(context.Background(), pairingTestPeer)

	if len(trust.added) != 0 {
		t.Fatalf("expected no trust change on denial, got %v", trust.added)
	}
	if len(pub.published) != 0 {
		t.Fatalf("expected no publish on denial, got %d", len(pub.published))
	}
}

type flakyPublisher struct {
	failCount int
	published [][]byte
}

func (f *flakyPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if f.failCount > 0 {
		f.failCount--
		return errFlaky
	}
	f.published = append(f.published, data)
	return nil
}

var errFlaky = &flakyError{}

type flakyError struct{}

func (e *flakyError) Error() string { return "flaky publish failure" }

func TestPublishPairSuccessWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	pub := &flakyPublisher{failCount: 2}
	e := New(pub, &recordingTrustStore{}, nil, true, logging.New())

	start := time.Now()
	e.publishPairSuccessWithRetry(context.Background())
	elapsed := time.Since(start)

	if len(pub.published) != 1 {
		t.Fatalf("expected eventual publish, got %d", len(pub.published))
	}
	if elapsed < 2*pairSuccessInterval {
		t.Fatalf("expected at least two retry intervals to elapse, got %s", elapsed)
	}
}

func TestPublishPairSuccessWithRetry_ExhaustsRetries(t *testing.T) {
	pub := &flakyPublisher{failCount: pairSuccessRetries}
	e := New(pub, &recordingTrustStore{}, nil, true, logging.New())

	e.publishPairSuccessWithRetry(context.Background())

	if len(pub.published) != 0 {
		t.Fatalf("expected no successful publish, got %d", len(pub.published))
	}
}
