package daemon_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/libp2p/go-libp2p-core/peer"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/fieldops/emergency-git/daemon"
	"github.com/fieldops/emergency-git/logging"
	"github.com/fieldops/emergency-git/p2p"
	"github.com/fieldops/emergency-git/protocol"
)

func TestDaemon(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "daemon engine suite")
}

const fakePeer = peer.ID("12D3KooWExample1111111111111111111111111111")

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, data)
	return nil
}

func (f *fakePublisher) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.published))
	copy(out, f.published)
	return out
}

type fakeTrustStore struct {
	trusted map[string]bool
	addCall int
}

func newFakeTrustStore() *fakeTrustStore {
	return &fakeTrustStore{trusted: map[string]bool{}}
}

func (f *fakeTrustStore) IsTrusted(peerID string) bool { return f.trusted[peerID] }

func (f *fakeTrustStore) Add(peerID string) error {
	f.addCall++
	f.trusted[peerID] = true
	return nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	calls    int
	wantHash string
	wantErr  error
	lastRepo string
	lastFile string
	lastNew  string
	lastMsg  string
}

func (f *fakeExecutor) PerformCommit(repoPath, relativeFilePath, newContent, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastRepo, f.lastFile, f.lastNew, f.lastMsg = repoPath, relativeFilePath, newContent, message
	if f.wantErr != nil {
		return "", f.wantErr
	}
	return f.wantHash, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func event(source peer.ID, data []byte) p2p.Event {
	return p2p.Event{Kind: p2p.EventMessage, Source: source, Data: data}
}

var _ = Describe("Engine", func() {
	var (
		pub   *fakePublisher
		trust *fakeTrustStore
		exec  *fakeExecutor
		log   logging.Logger
	)

	BeforeEach(func() {
		pub = &fakePublisher{}
		trust = newFakeTrustStore()
		exec = &fakeExecutor{wantHash: "deadbeef"}
		log = logging.New()
	})

	Context("anonymous messages", func() {
		It("drops messages with no source and makes no state change", func() {
			e := daemon.New(pub, trust, exec, false, log)
			bz, _ := protocol.Encode(protocol.NewRequest("/repo", "f.txt", "x", "m"))

			ch := make(chan p2p.Event, 1)
			ch <- p2p.Event{Kind: p2p.EventMessage, Source: "", Data: bz}
			close(ch)

			e.Run(context.Background(), ch)

			Expect(exec.callCount()).To(Equal(0))
			Expect(pub.snapshot()).To(BeEmpty())
		})
	})

	Context("trust gating", func() {
		It("ignores a Request from an untrusted peer and never invokes the executor", func() {
			e := daemon.New(pub, trust, exec, false, log)
			bz, _ := protocol.Encode(protocol.NewRequest("/repo", "f.txt", "x", "m"))

			ch := make(chan p2p.Event, 1)
			ch <- event(fakePeer, bz)
			close(ch)

			e.Run(context.Background(), ch)

			// handleRequest runs on its own goroutine, but its trust check
			// stops an untrusted Request before the executor or the
			// publisher is reached, so no later call can land here.
			Expect(exec.callCount()).To(Equal(0))
			Expect(pub.snapshot()).To(BeEmpty())
		})

		It("commits and publishes a success Response for a trusted peer's Request", func() {
			trust.trusted[fakePeer.String()] = true
			e := daemon.New(pub, trust, exec, false, log)
			bz, _ := protocol.Encode(protocol.NewRequest("/repo", "f.txt", "new content", "commit message"))

			ch := make(chan p2p.Event, 1)
			ch <- event(fakePeer, bz)
			close(ch)

			e.Run(context.Background(), ch)

			// The commit runs on its own goroutine, so the publish may not
			// have landed the instant Run returns.
			Eventually(pub.snapshot).Should(HaveLen(1))

			Expect(exec.callCount()).To(Equal(1))
			Expect(exec.lastRepo).To(Equal("/repo"))
			Expect(exec.lastFile).To(Equal("f.txt"))
			Expect(exec.lastNew).To(Equal("new content"))
			Expect(exec.lastMsg).To(Equal("commit message"))

			resp, err := protocol.Decode(pub.snapshot()[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Kind).To(Equal(protocol.KindResponse))
			Expect(resp.Success).To(BeTrue())
			Expect(resp.CommitHash).To(Equal("deadbeef"))
		})

		It("publishes a failure Response when the executor fails", func() {
			trust.trusted[fakePeer.String()] = true
			exec.wantHash = ""
			exec.wantErr = errors.New("executor boom")
			e := daemon.New(pub, trust, exec, false, log)
			bz, _ := protocol.Encode(protocol.NewRequest("/repo", "f.txt", "x", "m"))

			ch := make(chan p2p.Event, 1)
			ch <- event(fakePeer, bz)
			close(ch)

			e.Run(context.Background(), ch)

			Eventually(pub.snapshot).Should(HaveLen(1))

			resp, err := protocol.Decode(pub.snapshot()[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.ErrorMessage).To(ContainSubstring("executor boom"))
		})
	})

	Context("echoed messages", func() {
		It("takes no action on its own Response or PairSuccess echoes", func() {
			e := daemon.New(pub, trust, exec, true, log)
			respBz, _ := protocol.Encode(protocol.NewSuccessResponse("abc"))
			successBz, _ := protocol.Encode(protocol.PairSuccessMsg())

			ch := make(chan p2p.Event, 2)
			ch <- event(fakePeer, respBz)
			ch <- event(fakePeer, successBz)
			close(ch)

			e.Run(context.Background(), ch)

			Expect(exec.callCount()).To(Equal(0))
			Expect(trust.addCall).To(Equal(0))
			Expect(pub.snapshot()).To(BeEmpty())
		})
	})

	Context("PairRequest outside pairing mode", func() {
		It("is ignored and never reaches the prompt", func() {
			e := daemon.New(pub, trust, exec, false, log)
			bz, _ := protocol.Encode(protocol.PairRequest())

			ch := make(chan p2p.Event, 1)
			ch <- event(fakePeer, bz)
			close(ch)

			e.Run(context.Background(), ch)

			Expect(trust.addCall).To(Equal(0))
			Expect(pub.snapshot()).To(BeEmpty())
		})
	})
})
