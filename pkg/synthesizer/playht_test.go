package synthesizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlayHT imitates the convert + stream endpoints.
type fakePlayHT struct {
	convertStatus int
	convertBody   string
	chunks        [][]byte
	// next, when set, holds back every chunk after the first until the test releases it.
	next chan struct{}
	// truncate makes the stream end early, mid body.
	truncate bool

	mu          sync.Mutex
	converts    []playHTRequest
	headers     []http.Header
	streamPaths []string
}

func (f *fakePlayHT) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		var req playHTRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.converts = append(f.converts, req)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		if f.convertStatus != 0 && f.convertStatus != http.StatusOK {
			w.WriteHeader(f.convertStatus)
			_, _ = w.Write([]byte(`{"error":"no credits left"}`))
			return
		}
		body := f.convertBody
		if body == "" {
			body = `{"transcriptionId":"tx-123"}`
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/stream/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.streamPaths = append(f.streamPaths, r.URL.Path)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()

		assert.Equal(t, http.MethodGet, r.Method)
		if f.truncate {
			w.Header().Set("Content-Length", "1000")
		}
		flusher := w.(http.Flusher)
		for i, chunk := range f.chunks {
			if i > 0 && f.next != nil {
				<-f.next
			}
			_, _ = w.Write(chunk)
			flusher.Flush()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPlayHT(t *testing.T, baseURL string) *PlayHT {
	t.Helper()
	cfg := DefaultPlayHTConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "secret-key"
	cfg.UserID = "user-1"
	p, err := NewPlayHT(cfg)
	require.NoError(t, err)
	return p
}

func collect(t *testing.T, units <-chan models.SynthesizedAudio) []models.SynthesizedAudio {
	t.Helper()
	var result []models.SynthesizedAudio
	timeout := time.After(5 * time.Second)
	for {
		select {
		case unit, ok := <-units:
			if !ok {
				return result
			}
			result = append(result, unit)
		case <-timeout:
			t.Fatal("synthesis did not finish")
			return result
		}
	}
}

func assertSentinel(t *testing.T, unit models.SynthesizedAudio) {
	t.Helper()
	assert.Equal(t, 80, unit.Frame.SamplesPerChannel)
	assert.Equal(t, make([]byte, 160), unit.Frame.Data)
	assert.Equal(t, 44100, unit.Frame.SampleRate)
	assert.Equal(t, 1, unit.Frame.NumChannels)
	assert.Regexp(t, `^error-[0-9a-f]{8}$`, unit.RequestID)
}

func TestPlayHT_FlushSendsOneJoinedRequest(t *testing.T) {
	fake := &fakePlayHT{chunks: [][]byte{make([]byte, 160)}}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	stream := p.Stream(context.Background())
	stream.PushText("Hello")
	stream.PushText("world")
	require.NoError(t, stream.Flush(context.Background()))
	stream.EndInput()

	frames := stream.Frames()
	var units []models.SynthesizedAudio
	for frames.Next(context.Background()) {
		units = append(units, frames.Audio())
	}
	require.NoError(t, frames.Err())

	require.Len(t, fake.converts, 1)
	assert.Equal(t, playHTRequest{Voice: "Emma", Content: "Hello world", Format: "raw", VoiceEngine: "Play3.0-mini-http"}, fake.converts[0])
	require.Len(t, units, 1)
	assert.Equal(t, "tx-123", units[0].RequestID)
	assert.Equal(t, []string{"/stream/tx-123"}, fake.streamPaths)
}

func TestPlayHT_SetsAuthHeadersOnBothCalls(t *testing.T) {
	fake := &fakePlayHT{chunks: [][]byte{make([]byte, 8)}}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, fake.headers, 2)
	for _, h := range fake.headers {
		assert.Equal(t, "Bearer secret-key", h.Get("Authorization"))
		assert.Equal(t, "user-1", h.Get("X-User-ID"))
		assert.Equal(t, "application/json", h.Get("Content-Type"))
	}
}

func TestPlayHT_RejectedRequestYieldsSentinel(t *testing.T) {
	fake := &fakePlayHT{convertStatus: http.StatusPaymentRequired}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	var failed []SynthesisEvent
	p.Events().On(EventSynthesisFailed, func(e SynthesisEvent) error {
		failed = append(failed, e)
		return nil
	})

	units := collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, units, 1)
	assertSentinel(t, units[0])
	assert.Empty(t, fake.streamPaths)
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0].Err, ErrProviderRejected))
	assert.Contains(t, failed[0].Err.Error(), "402")
	assert.Contains(t, failed[0].Err.Error(), "no credits left")
	assert.Equal(t, units[0].RequestID, failed[0].RequestID)
}

func TestPlayHT_MissingTranscriptionIDYieldsSentinel(t *testing.T) {
	fake := &fakePlayHT{convertBody: `{"status":"CREATED"}`}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	var failed []SynthesisEvent
	p.Events().On(EventSynthesisFailed, func(e SynthesisEvent) error {
		failed = append(failed, e)
		return nil
	})

	units := collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, units, 1)
	assertSentinel(t, units[0])
	assert.Empty(t, fake.streamPaths)
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0].Err, ErrMissingRequestID))
}

func TestPlayHT_UndecodableConvertResponseYieldsSentinel(t *testing.T) {
	fake := &fakePlayHT{convertBody: `<html>oops</html>`}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	units := collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, units, 1)
	assertSentinel(t, units[0])
}

func TestPlayHT_SlicesStreamIntoFrames(t *testing.T) {
	first := make([]byte, 160)
	first[0] = 1
	second := []byte{2, 0, 3, 0}
	fake := &fakePlayHT{chunks: [][]byte{first, second}, next: make(chan struct{})}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	units := p.Synthesize(context.Background(), "hi")

	unit1 := <-units
	fake.next <- struct{}{}
	rest := collect(t, units)

	require.Len(t, rest, 1)
	unit2 := rest[0]
	assert.Equal(t, 80, unit1.Frame.SamplesPerChannel)
	assert.Equal(t, 2, unit2.Frame.SamplesPerChannel)
	assert.Equal(t, first, unit1.Frame.Data)
	assert.Equal(t, second, unit2.Frame.Data)
	for _, unit := range []models.SynthesizedAudio{unit1, unit2} {
		assert.Equal(t, "tx-123", unit.RequestID)
		assert.Equal(t, 44100, unit.Frame.SampleRate)
		assert.Equal(t, 1, unit.Frame.NumChannels)
	}
}

func TestPlayHT_TransportFailureYieldsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()
	p := newTestPlayHT(t, baseURL)

	units := collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, units, 1)
	assertSentinel(t, units[0])
}

func TestPlayHT_BrokenStreamEndsWithSentinel(t *testing.T) {
	fake := &fakePlayHT{chunks: [][]byte{make([]byte, 160)}, truncate: true}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	units := collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, units, 2)
	assert.Equal(t, "tx-123", units[0].RequestID)
	assertSentinel(t, units[1])
}

func TestPlayHT_EmptyStreamYieldsSentinel(t *testing.T) {
	fake := &fakePlayHT{}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	units := collect(t, p.Synthesize(context.Background(), "hi"))

	require.Len(t, units, 1)
	assertSentinel(t, units[0])
}

func TestPlayHT_EmitsLifecycleEvents(t *testing.T) {
	fake := &fakePlayHT{chunks: [][]byte{make([]byte, 160), make([]byte, 40)}}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	var mu sync.Mutex
	var seen []string
	var finished SynthesisEvent
	for _, name := range []string{EventSynthesisStarted, EventSynthesisFinished, EventSynthesisFailed} {
		name := name
		p.Events().On(name, func(e SynthesisEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name)
			if name == EventSynthesisFinished {
				finished = e
			}
			return nil
		})
	}

	collect(t, p.Synthesize(context.Background(), "hello there"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventSynthesisStarted, EventSynthesisFinished}, seen)
	assert.Equal(t, "tx-123", finished.RequestID)
	assert.Equal(t, "hello there", finished.Text)
	assert.Equal(t, "playht", finished.Provider)
	assert.Equal(t, 200, finished.Bytes)
	assert.GreaterOrEqual(t, finished.Frames, 1)
}

func TestPlayHT_AbandonedWhenContextCancelled(t *testing.T) {
	fake := &fakePlayHT{chunks: [][]byte{make([]byte, 160), make([]byte, 160)}, next: make(chan struct{}, 1)}
	srv := fake.start(t)
	p := newTestPlayHT(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	units := p.Synthesize(ctx, "hi")
	<-units
	cancel()
	fake.next <- struct{}{}

	select {
	case _, ok := <-units:
		if ok {
			// a unit may already be on its way, the channel must still close
			collect(t, units)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis did not stop after cancellation")
	}
}

func TestNewPlayHT_Validation(t *testing.T) {
	_, err := NewPlayHT(PlayHTConfig{UserID: "u"})
	assert.Error(t, err)
	_, err = NewPlayHT(PlayHTConfig{APIKey: "k"})
	assert.Error(t, err)

	p, err := NewPlayHT(PlayHTConfig{APIKey: "k", UserID: "u", BaseURL: "http://example.com/api/"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api", p.cfg.BaseURL)
	assert.Equal(t, 44100, p.SampleRate())
	assert.Equal(t, 1, p.NumChannels())
	assert.True(t, p.Capabilities().Streaming)
	assert.True(t, strings.HasPrefix(p.cfg.VoiceEngine, "Play3.0"))
}
