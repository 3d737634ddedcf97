package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGenerator returns a fixed outcome, optionally blocking until released.
type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	callers []string
	release chan struct{}
	result  *llm.GenerationResult
	err     error
}

func (g *stubGenerator) GenerateMetadata(ctx context.Context, image llm.Image) (*llm.GenerationResult, error) {
	g.mu.Lock()
	g.calls++
	g.callers = append(g.callers, llm.CallerFrom(ctx))
	release := g.release
	g.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.result, g.err
}

func (g *stubGenerator) Callers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.callers...)
}

func (g *stubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// releaseTracker records released preview keys.
type releaseTracker struct {
	*media.MemoryStore
	mu       sync.Mutex
	released []string
	failPut  bool
}

func newReleaseTracker() *releaseTracker {
	return &releaseTracker{MemoryStore: media.NewMemoryStore()}
}

func (r *releaseTracker) Put(ctx context.Context, input media.PutInput) (media.Handle, error) {
	if r.failPut {
		return media.Handle{}, errors.New("bucket unavailable")
	}
	return r.MemoryStore.Put(ctx, input)
}

func (r *releaseTracker) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	r.released = append(r.released, key)
	r.mu.Unlock()
	return r.MemoryStore.Release(ctx, key)
}

func (r *releaseTracker) Released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.released...)
}

func fiftyKeywords() []string {
	keywords := make([]string, 50)
	for i := range keywords {
		keywords[i] = fmt.Sprintf("keyword %d", i+1)
	}
	return keywords
}

func waitForStatus(t *testing.T, s *Session, status Status) State {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().Status == status
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", status)
	return s.Snapshot()
}

func newTestSession(t *testing.T, gen llm.Generator, store media.Store) *Session {
	t.Helper()
	s := NewSession("test", SessionConfig{Generator: gen, Previews: store, Timeout: time.Second})
	t.Cleanup(s.Stop)
	return s
}

func TestSession_PhotoScenario(t *testing.T) {
	gen := &stubGenerator{result: &llm.GenerationResult{
		Metadata: &llm.StockMetadata{
			Title:       "Sunlit meadow with wildflowers",
			Description: "A wide meadow full of wildflowers in warm afternoon light.",
			Keywords:    fiftyKeywords(),
			Category:    "Nature",
		},
	}}
	store := newReleaseTracker()
	s := newTestSession(t, gen, store)
	ctx := llm.WithCaller(context.Background(), "web")

	photo := &File{Name: "photo.jpg", Image: llm.Image{Data: bytes.Repeat([]byte{0xff}, 2<<20), MIMEType: "image/jpeg"}}
	state, err := s.SelectFile(ctx, photo)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, media.PathPrefix+state.Preview.Key, state.Preview.URL)

	_, changed := s.Dispatch(ctx, GenerateRequested{})
	require.True(t, changed)

	final := waitForStatus(t, s, StatusSuccess)
	require.NotNil(t, final.Result)
	assert.Equal(t, "Sunlit meadow with wildflowers", final.Result.Title)
	assert.Equal(t, "Nature", final.Result.Category)
	assert.Len(t, final.Result.Keywords, 50)
	assert.Empty(t, final.ErrorMessage)
	assert.Equal(t, []string{"web"}, gen.Callers())
}

func TestSession_EmptyResponseScenario(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": ""}}},
			}},
		})
	}))
	defer server.Close()

	gen, err := llm.NewGeminiGenerator(context.Background(), "test-key", llm.GeneratorOptions{
		Model:      "gemini-2.5-flash",
		BaseURL:    server.URL + "/",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	s := newTestSession(t, gen, media.NewMemoryStore())
	_, err = s.SelectFile(context.Background(), testFile("photo.jpg"))
	require.NoError(t, err)
	s.Dispatch(context.Background(), GenerateRequested{})

	final := waitForStatus(t, s, StatusError)
	assert.Equal(t, GenericErrorMessage, final.ErrorMessage)
	assert.Nil(t, final.Result)
	assert.Equal(t, llm.KindGeneration, final.ErrorKind)
}

func TestSession_GenerateWhileAnalyzingIsRejected(t *testing.T) {
	gen := &stubGenerator{release: make(chan struct{}), result: &llm.GenerationResult{Metadata: testMetadata()}}
	s := newTestSession(t, gen, media.NewMemoryStore())
	ctx := context.Background()

	_, err := s.SelectFile(ctx, testFile("a.jpg"))
	require.NoError(t, err)

	_, changed := s.Dispatch(ctx, GenerateRequested{})
	require.True(t, changed)

	state, changed := s.Dispatch(ctx, GenerateRequested{})
	assert.False(t, changed)
	assert.Equal(t, StatusAnalyzing, state.Status)
	assert.Equal(t, uint64(1), state.Attempt)

	close(gen.release)
	waitForStatus(t, s, StatusSuccess)
	assert.Equal(t, 1, gen.Calls())
}

func TestSession_GenerateWithoutFileIsNoop(t *testing.T) {
	gen := &stubGenerator{}
	s := newTestSession(t, gen, media.NewMemoryStore())

	state, changed := s.Dispatch(context.Background(), GenerateRequested{})
	assert.False(t, changed)
	assert.Equal(t, NewState(), state)
	assert.Equal(t, 0, gen.Calls())
}

func TestSession_SupersededPreviewIsReleased(t *testing.T) {
	store := newReleaseTracker()
	s := newTestSession(t, &stubGenerator{}, store)
	ctx := context.Background()

	first, err := s.SelectFile(ctx, testFile("a.jpg"))
	require.NoError(t, err)
	second, err := s.SelectFile(ctx, testFile("b.jpg"))
	require.NoError(t, err)

	assert.Equal(t, []string{first.Preview.Key}, store.Released())
	assert.Equal(t, 1, store.Len())

	_, changed := s.Dispatch(ctx, ResetRequested{})
	require.True(t, changed)
	assert.Equal(t, []string{first.Preview.Key, second.Preview.Key}, store.Released())
	assert.Equal(t, 0, store.Len())
}

func TestSession_StopReleasesPreview(t *testing.T) {
	store := newReleaseTracker()
	s := NewSession("stop", SessionConfig{Generator: &stubGenerator{}, Previews: store})

	state, err := s.SelectFile(context.Background(), testFile("a.jpg"))
	require.NoError(t, err)

	s.Stop()
	assert.Equal(t, []string{state.Preview.Key}, store.Released())

	_, changed := s.Dispatch(context.Background(), ResetRequested{})
	assert.False(t, changed)
	_, err = s.SelectFile(context.Background(), testFile("b.jpg"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_PreviewFailureKeepsState(t *testing.T) {
	store := newReleaseTracker()
	s := newTestSession(t, &stubGenerator{}, store)

	store.failPut = true
	state, err := s.SelectFile(context.Background(), testFile("a.jpg"))
	require.Error(t, err)
	assert.Nil(t, state.File)
	assert.Equal(t, StatusIdle, state.Status)
}

func TestSession_NewFileDuringAnalysisDropsResult(t *testing.T) {
	gen := &stubGenerator{release: make(chan struct{}), result: &llm.GenerationResult{Metadata: testMetadata()}}
	s := newTestSession(t, gen, media.NewMemoryStore())
	ctx := context.Background()

	_, err := s.SelectFile(ctx, testFile("a.jpg"))
	require.NoError(t, err)
	s.Dispatch(ctx, GenerateRequested{})

	state, err := s.SelectFile(ctx, testFile("b.jpg"))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, state.Status)

	close(gen.release)
	time.Sleep(50 * time.Millisecond)

	state = s.Snapshot()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Result)
	assert.Equal(t, "b.jpg", state.File.Name)
}

func TestSession_GenerationTimeout(t *testing.T) {
	gen := &stubGenerator{release: make(chan struct{})}
	defer close(gen.release)

	s := NewSession("timeout", SessionConfig{Generator: gen, Previews: media.NewMemoryStore(), Timeout: 30 * time.Millisecond})
	defer s.Stop()

	_, err := s.SelectFile(context.Background(), testFile("a.jpg"))
	require.NoError(t, err)
	s.Dispatch(context.Background(), GenerateRequested{})

	final := waitForStatus(t, s, StatusError)
	assert.Equal(t, GenericErrorMessage, final.ErrorMessage)
}

type panicGenerator struct{}

func (panicGenerator) GenerateMetadata(context.Context, llm.Image) (*llm.GenerationResult, error) {
	panic("boom")
}

func TestSession_GeneratorPanicBecomesError(t *testing.T) {
	s := newTestSession(t, panicGenerator{}, media.NewMemoryStore())

	_, err := s.SelectFile(context.Background(), testFile("a.jpg"))
	require.NoError(t, err)
	s.Dispatch(context.Background(), GenerateRequested{})

	final := waitForStatus(t, s, StatusError)
	assert.Equal(t, GenericErrorMessage, final.ErrorMessage)
}

func TestSession_PublishesChanges(t *testing.T) {
	gen := &stubGenerator{result: &llm.GenerationResult{Metadata: testMetadata()}}
	s := newTestSession(t, gen, media.NewMemoryStore())

	ch := s.Broker().Subscribe()
	defer s.Broker().Unsubscribe(ch)

	_, err := s.SelectFile(context.Background(), testFile("a.jpg"))
	require.NoError(t, err)
	s.Dispatch(context.Background(), GenerateRequested{})

	var statuses []Status
	timeout := time.After(2 * time.Second)
	for len(statuses) < 3 {
		select {
		case c := <-ch:
			assert.Equal(t, "test", c.SessionID)
			statuses = append(statuses, c.Current.Status)
		case <-timeout:
			t.Fatalf("timed out, got %v", statuses)
		}
	}
	assert.Equal(t, []Status{StatusIdle, StatusAnalyzing, StatusSuccess}, statuses)
}

func TestSession_GeneratorErrorIsClassified(t *testing.T) {
	gen := &stubGenerator{err: &llm.GenerationError{Reason: "credentials rejected", Kind: llm.KindConfiguration}}
	s := newTestSession(t, gen, media.NewMemoryStore())

	_, err := s.SelectFile(context.Background(), testFile("a.jpg"))
	require.NoError(t, err)
	s.Dispatch(context.Background(), GenerateRequested{})

	final := waitForStatus(t, s, StatusError)
	assert.Equal(t, llm.KindConfiguration, final.ErrorKind)
	assert.Equal(t, GenericErrorMessage, final.ErrorMessage)
}
