package audioio

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dengfengjiang77/mangoesai/internal/networking"
	"github.com/dengfengjiang77/mangoesai/pkg/events"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/dengfengjiang77/mangoesai/pkg/synthesizer"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTTS answers with two frames per request, or a silence sentinel for "fail".
type fakeTTS struct {
	emitter *events.Emitter[synthesizer.SynthesisEvent]
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) <-chan models.SynthesizedAudio {
	out := make(chan models.SynthesizedAudio, 2)
	if text == "fail" {
		out <- models.NewSilenceSentinel(44100, 1)
	} else {
		out <- unit("req-"+text, 1, 0, 2, 0)
		out <- unit("req-"+text, 3, 0)
	}
	close(out)
	return out
}

func (f *fakeTTS) Stream(ctx context.Context) *synthesizer.Stream {
	return synthesizer.NewStream(ctx, f.Synthesize)
}

func (f *fakeTTS) Capabilities() synthesizer.Capabilities {
	return synthesizer.Capabilities{Streaming: true}
}

func (f *fakeTTS) SampleRate() int { return 44100 }

func (f *fakeTTS) NumChannels() int { return 1 }

func (f *fakeTTS) Events() *events.Emitter[synthesizer.SynthesisEvent] { return f.emitter }

func dialTTS(t *testing.T) *websocket.Conn {
	t.Helper()
	tts := &fakeTTS{emitter: events.NewEmitter[synthesizer.SynthesisEvent]()}
	srv := httptest.NewServer(networking.NewWebsocketHandlerFunc(func(r *http.Request) networking.WebsocketMessageHandler {
		return NewTTSHandler(context.Background(), tts)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestTTSHandler_StreamsMediaThenStop(t *testing.T) {
	conn := dialTTS(t)

	for _, msg := range []TTSMessage{
		{Event: EventText, Text: "Hello"},
		{Event: EventText, Text: "world"},
		{Event: EventFlush},
		{Event: EventText, Text: "fail"},
		{Event: EventFlush},
		{Event: EventEnd},
	} {
		require.NoError(t, conn.WriteJSON(msg))
	}

	var received []TTSMessage
	for {
		var msg TTSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		received = append(received, msg)
		if msg.Event == EventStop {
			break
		}
	}

	require.Len(t, received, 4)
	for i, msg := range received[:3] {
		assert.Equal(t, EventMedia, msg.Event)
		assert.Equal(t, i+1, msg.SequenceNumber)
		require.NotNil(t, msg.Media)
		assert.Equal(t, 44100, msg.Media.SampleRate)
	}
	assert.Equal(t, "req-Hello world", received[0].RequestID)
	payload, err := base64.StdEncoding.DecodeString(received[0].Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, payload)
	assert.Equal(t, 2, received[0].Media.SamplesPerChannel)

	assert.Regexp(t, `^error-[0-9a-f]{8}$`, received[2].RequestID)
	assert.True(t, received[2].Media.Silence)
	assert.Equal(t, 80, received[2].Media.SamplesPerChannel)

	assert.Equal(t, &TTSStopPayload{Frames: 3, FailedRequests: 1}, received[3].Stop)

	// the server closes the connection after stop
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestTTSHandler_RejectsBadMessages(t *testing.T) {
	conn := dialTTS(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var msg TTSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventError, msg.Event)

	require.NoError(t, conn.WriteJSON(TTSMessage{Event: "dance"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventError, msg.Event)
	assert.Contains(t, msg.Error, "dance")
}

func TestTTSHandler_EndWithoutTextStopsRightAway(t *testing.T) {
	conn := dialTTS(t)

	require.NoError(t, conn.WriteJSON(TTSMessage{Event: EventEnd}))

	var msg TTSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventStop, msg.Event)
	assert.Equal(t, &TTSStopPayload{}, msg.Stop)
}

func TestTruncatePayload(t *testing.T) {
	long := strings.Repeat("A", 150)
	out := truncatePayload(`{"event":"media","media":{"payload":"` + long + `"}}`)
	assert.Contains(t, out, strings.Repeat("A", 100)+" ... (truncated)")
	assert.NotContains(t, out, strings.Repeat("A", 101))

	short := `{"payload":"abc"}`
	assert.Equal(t, short, truncatePayload(short))
}
