package transcriber

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/dengfengjiang77/mangoesai/pkg/events"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/rs/zerolog/log"
)

// TranscribeAudioRoutine is intended to run for the entire lifespan of a conversation.
// Every transcribed chunk is forwarded into textChunksChan, and when a prompt is submitted
// (by the recorder, or because Whisper started repeating itself on silence) the whole user
// prompt is emitted as EventUserTranscript. textChunksChan is closed on return.
func TranscribeAudioRoutine(ctx context.Context, transcriber Transcriber, audioChunksChan <-chan models.AudioData, textChunksChan chan<- models.AudioData, transcripts *events.Emitter[models.TranscriptEvent]) (string, error) {
	log.Info().Msgf("TranscribeAudioRoutine started")
	defer close(textChunksChan)

	var transcriptBuilder strings.Builder
	var finalTranscript strings.Builder
	transcriptRepetitions := 0

	send := func(data models.AudioData) error {
		select {
		case textChunksChan <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	submit := func(data models.AudioData) error {
		prompt := strings.TrimSpace(transcriptBuilder.String())
		transcriptBuilder.Reset()
		transcriptRepetitions = 0
		if prompt != "" {
			finalTranscript.WriteString(" ")
			finalTranscript.WriteString(prompt)
			transcripts.Emit(EventUserTranscript, models.TranscriptEvent{Role: models.RoleUser, Text: prompt, At: time.Now()})
		}
		data.Text = prompt
		return send(data)
	}

	for {
		var audioChunk models.AudioData
		var ok bool
		select {
		case audioChunk, ok = <-audioChunksChan:
		case <-ctx.Done():
			return strings.TrimSpace(finalTranscript.String()), ctx.Err()
		}
		if !ok {
			break
		}
		audioChunk.Trace.ReceivedAt = time.Now()

		if audioChunk.EventType == models.SubmitPrompt {
			log.Info().Msg("TranscribeAudioRoutine encountered SubmitPrompt; will clear state to start working on the next")
			if err := submit(audioChunk); err != nil {
				return strings.TrimSpace(finalTranscript.String()), err
			}
			continue
		}

		recordingBytes := audioChunk.ByteData
		previousWords := transcriptBuilder.String()
		format := audioChunk.Format
		if format == "" {
			format = "wav"
		}
		transcript, err := transcriber.SendAudio(ctx, bytes.NewReader(recordingBytes), format, previousWords)
		if err != nil {
			log.Error().Err(err).Int("wav_chunk_byte_length", len(recordingBytes)).Msg("cannot transcribe audio, skipping chunk")
			continue
		}
		transcript = strings.TrimSpace(transcript)
		if transcript == "" {
			continue
		}
		// E.g. silence in whisper can be repeating last prompt words over and over like:
		// * .. in 100 words. All right. All right. Well, please, let's do it. All right. Go. All right. All right.
		if len(transcript) >= 3 && strings.HasSuffix(previousWords, transcript) {
			transcriptRepetitions += 1
		} else {
			transcriptRepetitions = 0
		}
		if transcriptRepetitions >= 2 {
			log.Info().Msgf("transcripts repeated itself for %d times, gonna submit prompt. Transcript: %s", transcriptRepetitions, transcript)
			if err := submit(models.NewAudioDataSubmit("transcriber.worker")); err != nil {
				return strings.TrimSpace(finalTranscript.String()), err
			}
			continue
		}
		if transcriptRepetitions > 0 {
			log.Info().Msgf("transcript repeated previous words, skipping audio for: %s", transcript)
			continue
		}

		transcriptBuilder.WriteString(" ")
		transcriptBuilder.WriteString(transcript)

		audioChunk.Text = transcript
		audioChunk.Trace.ProcessedAt = time.Now()
		audioChunk.Trace.Processor = "transcribe_open_ai_whisper"
		audioChunk.Trace.Log()
		if err := send(audioChunk); err != nil {
			return strings.TrimSpace(finalTranscript.String()), err
		}
	}

	// Whatever was said after the last submit still counts.
	if strings.TrimSpace(transcriptBuilder.String()) != "" {
		if err := submit(models.NewAudioDataSubmit("transcriber.worker")); err != nil {
			return strings.TrimSpace(finalTranscript.String()), err
		}
	}
	result := strings.TrimSpace(finalTranscript.String())
	log.Info().Msgf("TranscribeAudioRoutine ended with finalTranscript %s", result)
	return result, nil
}
