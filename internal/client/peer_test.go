package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	router "github.com/dkeye/Dialtone/internal/adapters/http"
	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/app/orch"
	"github.com/dkeye/Dialtone/internal/app/transfer"
	"github.com/dkeye/Dialtone/internal/config"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	*httptest.Server
	idp  *auth.JWTProvider
	orch *orch.Orchestrator
}

func startServer(t *testing.T) *server {
	t.Helper()
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	cfg.Mode = "test"
	cfg.Auth.JWTSecret = "test-secret"
	idp, err := auth.NewJWTProvider(cfg.Auth)
	require.NoError(t, err)

	o := orch.New(app.NewRegistry(), app.SimplePolicy{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go o.Registry.Run(ctx)
	go o.BroadcastPresence(ctx)

	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o, idp))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &server{Server: srv, idp: idp, orch: o}
}

type files struct {
	mu        sync.Mutex
	completed map[string][]byte
	failed    map[string]error
}

func newFiles() *files {
	return &files{completed: make(map[string][]byte), failed: make(map[string]error)}
}

func (f *files) TransferStarted(string, int64) {}

func (f *files) TransferCompleted(name string, data []byte) {
	f.mu.Lock()
	f.completed[name] = data
	f.mu.Unlock()
}

func (f *files) TransferFailed(name string, err error) {
	f.mu.Lock()
	f.failed[name] = err
	f.mu.Unlock()
}

func (f *files) get(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.completed[name]
	return b, ok
}

func dialPeer(t *testing.T, srv *server, sb *switchboard, name string, obs transfer.Observer, opts Options) *Peer {
	t.Helper()
	tok, err := srv.idp.Issue(name, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sig, err := Dial(ctx, srv.URL, tok)
	require.NoError(t, err)

	p := NewPeer(sig, sb.factory(name), obs, opts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return p.Self().ConnectionID != "" }, 2*time.Second, 5*time.Millisecond)
	return p
}

func waitDone(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call did not finish")
	}
}

func TestCallAndTransfer(t *testing.T) {
	srv := startServer(t)
	sb := newSwitchboard()
	bobFiles := newFiles()

	alice := dialPeer(t, srv, sb, "alice", newFiles(), Options{Transfer: transfer.Options{ChunkSize: 16}})
	bob := dialPeer(t, srv, sb, "bob", bobFiles, Options{AutoAnswer: true})

	require.Eventually(t, func() bool { return len(alice.Presence().Users) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, alice.Call("bob"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, alice.WaitOpen(ctx))

	payload := []byte("the quick brown fox jumps over the lazy dog, several times over")
	require.NoError(t, alice.SendFile(ctx, "fox.txt", payload))
	require.Eventually(t, func() bool {
		got, ok := bobFiles.get("fox.txt")
		return ok && string(got) == string(payload)
	}, 2*time.Second, 5*time.Millisecond)

	// bob's media saw alice's candidates in the order they were gathered
	aliceMedia, bobMedia := sb.owned("alice"), sb.owned("bob")
	require.Len(t, aliceMedia, 1)
	require.Len(t, bobMedia, 1)
	require.Eventually(t, func() bool { return len(bobMedia[0].appliedCandidates()) == 3 }, 2*time.Second, 5*time.Millisecond)
	id := aliceMedia[0].id
	assert.Equal(t, []string{id + "/cand-0", id + "/cand-1", id + "/cand-2"}, bobMedia[0].appliedCandidates())

	require.Eventually(t, func() bool {
		call, ok := srv.orch.Calls.Get("alice", "bob")
		return ok && call.State() == domain.CallConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, alice.Hangup())
	waitDone(t, bob)
	assert.ErrorIs(t, bob.Err(), ErrEnded)
	assert.True(t, bobMedia[0].isClosed())
	assert.Eventually(t, func() bool { return srv.orch.Calls.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCallToMultipleDevices(t *testing.T) {
	srv := startServer(t)
	sb := newSwitchboard()

	alice := dialPeer(t, srv, sb, "alice", newFiles(), Options{})
	bob1 := dialPeer(t, srv, sb, "bob", newFiles(), Options{AutoAnswer: true})
	bob2 := dialPeer(t, srv, sb, "bob", newFiles(), Options{AutoAnswer: true})

	require.NoError(t, alice.Call("bob"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, alice.WaitOpen(ctx))

	call, ok := srv.orch.Calls.Get("alice", "bob")
	require.True(t, ok)
	winner := call.Winner()

	loser := bob1
	if bob1.Self().ConnectionID == string(winner) {
		loser = bob2
	} else {
		require.Equal(t, string(winner), bob2.Self().ConnectionID)
	}
	waitDone(t, loser)
	assert.ErrorIs(t, loser.Err(), ErrAnsweredElsewhere)
}

func TestCallRejected(t *testing.T) {
	srv := startServer(t)
	sb := newSwitchboard()

	alice := dialPeer(t, srv, sb, "alice", newFiles(), Options{})
	dialPeer(t, srv, sb, "bob", newFiles(), Options{AutoAnswer: false})

	require.NoError(t, alice.Call("bob"))
	waitDone(t, alice)
	assert.ErrorIs(t, alice.Err(), ErrRejected)
}

func TestCallOfflineUser(t *testing.T) {
	srv := startServer(t)
	alice := dialPeer(t, srv, newSwitchboard(), "alice", newFiles(), Options{})

	require.NoError(t, alice.Call("nobody"))
	waitDone(t, alice)
	require.Error(t, alice.Err())
	assert.Contains(t, alice.Err().Error(), "unknown_target")
}

func TestCallerDisconnectEndsCall(t *testing.T) {
	srv := startServer(t)
	sb := newSwitchboard()
	bob := dialPeer(t, srv, sb, "bob", newFiles(), Options{AutoAnswer: true})

	tok, err := srv.idp.Issue("alice", "", nil)
	require.NoError(t, err)
	sig, err := Dial(context.Background(), srv.URL, tok)
	require.NoError(t, err)
	alice := NewPeer(sig, sb.factory("alice"), newFiles(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- alice.Run(ctx) }()

	require.Eventually(t, func() bool { return alice.Self().ConnectionID != "" }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, alice.Call("bob"))
	openCtx, openCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer openCancel()
	require.NoError(t, alice.WaitOpen(openCtx))

	cancel()
	<-runDone
	waitDone(t, bob)
	assert.ErrorIs(t, bob.Err(), ErrEnded)
}

func TestDialRejectsBadToken(t *testing.T) {
	srv := startServer(t)
	_, err := Dial(context.Background(), srv.URL, "garbage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSignalURL(t *testing.T) {
	u, err := SignalURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/ws/signal", u)

	u, err = SignalURL("https://example.com/base/")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/base/api/ws/signal", u)

	_, err = SignalURL("ftp://x")
	assert.Error(t, err)
}
