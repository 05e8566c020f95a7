package transcriber

import (
	"context"
	"io"
)

// EventUserTranscript carries a models.TranscriptEvent once the user finished a prompt.
const EventUserTranscript = "user_transcript"

type Transcriber interface {
	SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error)
}
