package transcriber

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/dengfengjiang77/mangoesai/pkg/events"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTranscriber returns the audio bytes as the transcript.
type scriptedTranscriber struct {
	mu      sync.Mutex
	prompts []string
	formats []string
}

func (s *scriptedTranscriber) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (string, error) {
	data, err := io.ReadAll(input)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.formats = append(s.formats, fileExtension)
	s.mu.Unlock()
	if string(data) == "fail" {
		return "", errors.New("whisper is down")
	}
	return string(data), nil
}

func audioChunk(text string) models.AudioData {
	return models.AudioData{EventType: models.AudioInput, ByteData: []byte(text), Format: "wav", Trace: models.NewTrace("test")}
}

func runRoutine(t *testing.T, chunks []models.AudioData) (string, []models.AudioData, []models.TranscriptEvent) {
	t.Helper()
	audioChan := make(chan models.AudioData, len(chunks))
	for _, chunk := range chunks {
		audioChan <- chunk
	}
	close(audioChan)

	textChan := make(chan models.AudioData, 100)
	emitter := events.NewEmitter[models.TranscriptEvent]()
	var got []models.TranscriptEvent
	emitter.On(EventUserTranscript, func(e models.TranscriptEvent) error {
		got = append(got, e)
		return nil
	})

	final, err := TranscribeAudioRoutine(context.Background(), &scriptedTranscriber{}, audioChan, textChan, emitter)
	require.NoError(t, err)

	var out []models.AudioData
	for data := range textChan {
		out = append(out, data)
	}
	return final, out, got
}

func TestTranscribeAudioRoutine_EmitsPromptOnSubmit(t *testing.T) {
	final, out, got := runRoutine(t, []models.AudioData{
		audioChunk("Tell me"),
		audioChunk("fail"),
		audioChunk("a joke."),
		models.NewAudioDataSubmit("test"),
		audioChunk("Another one."),
	})

	require.Len(t, got, 2)
	assert.Equal(t, models.RoleUser, got[0].Role)
	assert.Equal(t, "Tell me a joke.", got[0].Text)
	assert.Equal(t, "Another one.", got[1].Text)
	assert.Equal(t, "Tell me a joke. Another one.", final)

	var texts []string
	for _, data := range out {
		texts = append(texts, data.Text)
	}
	assert.Equal(t, []string{"Tell me", "a joke.", "Tell me a joke.", "Another one.", "Another one."}, texts)
	assert.Equal(t, models.SubmitPrompt, out[2].EventType)
}

func TestTranscribeAudioRoutine_RepetitionSubmitsPrompt(t *testing.T) {
	_, out, got := runRoutine(t, []models.AudioData{
		audioChunk("All right."),
		audioChunk("All right."),
		audioChunk("All right."),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "All right.", got[0].Text)
	require.Len(t, out, 2)
	assert.Equal(t, models.SubmitPrompt, out[1].EventType)
}

func TestTranscribeAudioRoutine_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	textChan := make(chan models.AudioData)

	_, err := TranscribeAudioRoutine(ctx, &scriptedTranscriber{}, make(chan models.AudioData), textChan, nil)

	assert.ErrorIs(t, err, context.Canceled)
	_, ok := <-textChan
	assert.False(t, ok)
}
