package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/conix/hybridlauncher/lifecycle"
	"github.com/conix/hybridlauncher/session"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var log = zap.NewNop().Sugar()

type fakeSource struct {
	scenes  []session.Snapshot
	pending []string

	mu   sync.Mutex
	subs []chan lifecycle.Transition
}

func (f *fakeSource) Scenes() ([]session.Snapshot, []string) { return f.scenes, f.pending }

func (f *fakeSource) Subscribe() (<-chan lifecycle.Transition, func()) {
	ch := make(chan lifecycle.Transition, 8)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSource) send(t lifecycle.Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- t
	}
}

func newTestServer(t *testing.T, source SceneSource) *Client {
	s := httptest.NewServer(NewServer(source).Handler())
	t.Cleanup(s.Close)
	return NewClient(log, s.URL)
}

func TestScenes(t *testing.T) {
	rendering := false
	source := &fakeSource{
		scenes: []session.Snapshot{{
			SceneID:   "public/example",
			LaunchID:  "l1",
			Clients:   []string{"a", "b"},
			Rendering: &rendering,
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
		pending: []string{"l2"},
	}
	client := newTestServer(t, source)

	resp, err := client.Scenes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, source.scenes, resp.Scenes)
	assert.Equal(t, []string{"l2"}, resp.Pending)
}

func TestScenesEmpty(t *testing.T) {
	s := httptest.NewServer(NewServer(&fakeSource{}).Handler())
	t.Cleanup(s.Close)

	resp, err := http.Get(s.URL + "/scenes")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	client := NewClient(log, s.URL)
	scenes, err := client.Scenes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scenes.Scenes)
	assert.NotNil(t, scenes.Pending)
}

func TestHeartbeat(t *testing.T) {
	client := newTestServer(t, &fakeSource{})
	require.NoError(t, client.WaitForServer(context.Background()))
	require.NoError(t, client.SendHeartbeat(context.Background()))
}

func TestClientNon200(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(s.Close)

	client := NewClient(log, s.URL, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 0
	}))
	_, err := client.Scenes(context.Background())
	require.ErrorContains(t, err, "non-200 HTTP status code 404")
}

func TestEvents(t *testing.T) {
	source := &fakeSource{}
	client := newTestServer(t, source)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errDone := errors.New("done")
	got := make(chan lifecycle.Transition, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Events(ctx, func(tr lifecycle.Transition) error {
			got <- tr
			return errDone
		})
	}()

	require.Eventually(t, func() bool { return source.subscribers() == 1 }, 5*time.Second, 5*time.Millisecond)
	exp := lifecycle.Transition{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Event:   "connect client=a scene=S",
		Scene:   "S",
		Effects: []string{"spawn launch=l1"},
	}
	source.send(exp)

	select {
	case tr := <-got:
		assert.Equal(t, exp, tr)
	case <-ctx.Done():
		t.Fatal("no transition received")
	}
	require.ErrorIs(t, <-errCh, errDone)
}

func TestRunAndStop(t *testing.T) {
	s := NewServer(&fakeSource{}, WithListenAddr("127.0.0.1:0"))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, err := s.Addr(ctx)
	require.NoError(t, err)

	client := NewClient(log, addr)
	require.NoError(t, client.WaitForServer(ctx))

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, <-errCh)
}

func TestStopBeforeRun(t *testing.T) {
	s := NewServer(&fakeSource{}, WithListenAddr("127.0.0.1:0"))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Run())
}

func TestServerLogLevel(t *testing.T) {
	run := func(opts ...Option) int {
		core, logs := observer.New(zapcore.DebugLevel)
		opts = append([]Option{WithLogger(zap.New(core)), WithListenAddr("127.0.0.1:0")}, opts...)
		s := NewServer(&fakeSource{}, opts...)

		errCh := make(chan error, 1)
		go func() { errCh <- s.Run() }()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.Addr(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Stop(ctx))
		require.NoError(t, <-errCh)
		return logs.Len()
	}

	assert.Greater(t, run(), 0)
	assert.Equal(t, 0, run(WithLogLevel(zapcore.WarnLevel)))
}

func TestWaitForServerPolls(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.Header().Add("Content-Type", "application/json")
		w.Write([]byte(`{"LastHeartbeat":"2024-01-01T00:00:00Z"}`))
	}))
	t.Cleanup(s.Close)

	client := NewClient(log, s.URL,
		WithClientWaitInterval(5*time.Millisecond),
		WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
			r.RetryMax = 0
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}
