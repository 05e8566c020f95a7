package audioio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/dengfengjiang77/mangoesai/pkg/synthesizer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ttsHandler bridges one websocket connection to one synthesizer.Stream: text events
// are pushed into the stream, every synthesized frame goes back as a media event.
type ttsHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *synthesizer.Stream

	readChan  chan []byte
	writeChan chan []byte

	writeMu     sync.Mutex
	writeClosed bool
}

func NewTTSHandler(ctx context.Context, tts synthesizer.Synthesizer) *ttsHandler {
	ctx, cancel := context.WithCancel(ctx)
	result := &ttsHandler{
		ctx:       ctx,
		cancel:    cancel,
		stream:    tts.Stream(ctx),
		readChan:  make(chan []byte, 100),
		writeChan: make(chan []byte, 100),
	}
	go result.readMessagesUntilChanClosed()
	go result.writeAudioUntilStreamDone()
	return result
}

func (th *ttsHandler) GetReader() chan<- []byte {
	return th.readChan
}

func (th *ttsHandler) GetWriter() <-chan []byte {
	return th.writeChan
}

func (th *ttsHandler) readMessagesUntilChanClosed() {
	for msg := range th.readChan {
		th.handleMessage(msg)
	}
	// The other party is gone, nobody would hear the rest.
	log.Info().Msg("websocket reader closed, closing synthesis stream")
	th.stream.Close()
	th.cancel()
}

func (th *ttsHandler) handleMessage(msg []byte) {
	var message TTSMessage
	if err := json.Unmarshal(msg, &message); err != nil {
		log.Error().Err(err).Msgf("couldn't decode message from websocket: %s", truncatePayload(string(msg)))
		th.send(TTSMessage{Event: EventError, Error: "invalid json"})
		return
	}
	log.Debug().Str("event", message.Event).Msg("received websocket message")

	switch message.Event {
	case EventText:
		th.stream.PushText(message.Text)
	case EventFlush:
		if err := th.stream.Flush(th.ctx); err != nil {
			log.Debug().Err(err).Msg("flush interrupted")
		}
	case EventEnd:
		th.stream.EndInput()
	default:
		log.Error().Err(errors.Errorf("unknown message.Event %s", message.Event)).Msg("")
		th.send(TTSMessage{Event: EventError, Error: "unknown event " + message.Event})
	}
}

func (th *ttsHandler) writeAudioUntilStreamDone() {
	defer th.closeWriter()

	frames := th.stream.Frames()
	sequenceNumber, failed := 0, 0
	lastFailedID := ""
	for frames.Next(th.ctx) {
		audio := frames.Audio()
		sequenceNumber++
		if audio.IsError() && audio.RequestID != lastFailedID {
			failed++
			lastFailedID = audio.RequestID
		}
		ok := th.send(TTSMessage{
			Event:          EventMedia,
			SequenceNumber: sequenceNumber,
			RequestID:      audio.RequestID,
			Media: &TTSMediaPayload{
				SampleRate:        audio.Frame.SampleRate,
				Channels:          audio.Frame.NumChannels,
				SamplesPerChannel: audio.Frame.SamplesPerChannel,
				Silence:           audio.IsError(),
				Payload:           base64.StdEncoding.EncodeToString(audio.Frame.Data),
			},
		})
		if !ok {
			return
		}
	}
	if err := frames.Err(); err != nil {
		log.Debug().Err(err).Msg("synthesis stream interrupted")
		return
	}
	th.send(TTSMessage{
		Event:          EventStop,
		SequenceNumber: sequenceNumber + 1,
		Stop:           &TTSStopPayload{Frames: sequenceNumber, FailedRequests: failed},
	})
	log.Info().Int("frames", sequenceNumber).Int("failed_requests", failed).Msg("synthesis stream finished")
}

// send drops the message once the writer was closed or the connection is gone.
func (th *ttsHandler) send(message TTSMessage) bool {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("event", message.Event).Msg("cannot encode websocket message")
		return false
	}
	log.Trace().Msgf("sending message: %s", truncatePayload(string(data)))

	th.writeMu.Lock()
	defer th.writeMu.Unlock()
	if th.writeClosed {
		return false
	}
	select {
	case th.writeChan <- data:
		return true
	case <-th.ctx.Done():
		return false
	}
}

func (th *ttsHandler) closeWriter() {
	th.writeMu.Lock()
	defer th.writeMu.Unlock()
	th.writeClosed = true
	close(th.writeChan)
}
