package audioio

import (
	"io"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
)

type InputDevice interface {
	// StartRecording sends wav encoded phrases into recordingChan until StopRecording,
	// which sends the rest and closes recordingChan.
	StartRecording(recordingChan chan<- models.AudioData) error
	StopRecording() ([]byte, error)
}

// OutputDevice plays one request at a time.
type OutputDevice interface {
	// Play starts playing the S16LE audio of requestID from audio. The returned channel is
	// closed once the device is done with it, either because audio ran dry or because of Stop.
	Play(requestID string, audio io.Reader) (<-chan struct{}, error)
	// Stop interrupts the current playback and waits until the device released it.
	Stop() error
}
