// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dengfengjiang77/mangoesai/pkg/audio_utils"
	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/dengfengjiang77/mangoesai/pkg/vad"
	"github.com/gen2brain/malgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

const MyDeviceInputChannels uint32 = 1
const MyDeviceSampleRate uint32 = 44100

type MicrophoneConfig struct {
	Detector vad.Detector
	// DebugFs, when set, receives every recorded phrase as wav under DebugDir.
	DebugFs  afero.Fs
	DebugDir string
}

type microphone struct {
	cfg          MicrophoneConfig
	device       *malgo.Device
	deviceConfig malgo.DeviceConfig
	malgoContext *malgo.AllocatedContext

	recordingStart time.Time
	recordingChan  chan<- models.AudioData

	mu      sync.Mutex
	chunker *phraseChunker
	stopped bool
}

// NewMicrophone inits the microphone device,
// you should defer StopRecording
func NewMicrophone(cfg MicrophoneConfig) (InputDevice, error) {
	if cfg.Detector == nil {
		cfg.Detector = vad.NewEnergyDetector(vad.DefaultThreshold, vad.DefaultWindowMS)
	}
	if cfg.DebugFs != nil {
		dbg(cfg.DebugFs.MkdirAll(cfg.DebugDir, 0755))
	}

	log.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.Replace("malgo devices: "+message, "\n", "", -1))
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot init malgo context")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = MyDeviceInputChannels
	deviceConfig.SampleRate = MyDeviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	return &microphone{
		cfg:          cfg,
		deviceConfig: deviceConfig,
		malgoContext: ctx,
		chunker:      newPhraseChunker(cfg.Detector, int(MyDeviceSampleRate), int(MyDeviceInputChannels)),
	}, nil
}

// StartRecording can only be called once for NewMicrophone
// Mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (m *microphone) StartRecording(recordingChan chan<- models.AudioData) (err error) {
	m.recordingChan = recordingChan
	format := m.deviceConfig.Capture.Format
	sizeInBytes := uint32(malgo.SampleSizeInBytes(format))
	if sizeInBytes != 2 {
		return errors.Errorf("expected 2 bytes per sample for %v, got %d", format, sizeInBytes)
	}

	onRecvFrames := func(pOutputSample, pInputSample []byte, framecount uint32) {
		// Empirically, len(pInputSample) is 480, so for sample rate 44100 it's triggered about every 10ms.
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}
		if phrase := m.chunker.append(pInputSample); phrase != nil {
			m.sendPhrase(phrase)
		}
	}

	m.device, err = malgo.InitDevice(m.malgoContext.Context, m.deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot init malgo device with config %v", m.deviceConfig)
	}

	log.Info().Msg("malgo START recording...")
	m.recordingStart = time.Now()
	if err = m.device.Start(); err != nil {
		return errors.Wrap(err, "cannot start malgo device")
	}
	return nil
}

// StopRecording flushes the pending audio, closes the recording channel and
// returns the entire recording as wav.
func (m *microphone) StopRecording() ([]byte, error) {
	log.Info().Dur("recording_duration", time.Since(m.recordingStart)).Msg("malgo STOP recording")
	if m.device != nil {
		dbg(m.device.Stop())
		m.device.Uninit()
	}
	dbg(m.malgoContext.Uninit())
	m.malgoContext.Free()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, errors.New("recording already stopped")
	}
	m.stopped = true

	if rest := m.chunker.finish(); len(rest) > 0 {
		m.sendPhrase(rest)
	}
	if m.recordingChan != nil {
		log.Info().Msg("closing recording channel")
		close(m.recordingChan)
	}
	return audio_utils.ConvertTwoByteSamplesToWav(m.chunker.all(), MyDeviceSampleRate, MyDeviceInputChannels)
}

func (m *microphone) sendPhrase(pcm []byte) {
	wavData, err := audio_utils.ConvertTwoByteSamplesToWav(pcm, MyDeviceSampleRate, MyDeviceInputChannels)
	if err != nil {
		log.Error().Err(err).Int("byte_data_length", len(pcm)).Msg("could not convert byteData to wavData")
		return
	}
	if m.cfg.DebugFs != nil {
		path := filepath.Join(m.cfg.DebugDir, fmt.Sprintf("mic-%d.wav", time.Now().UnixMilli()))
		dbg(afero.WriteFile(m.cfg.DebugFs, path, wavData, 0644))
	}

	audioData := models.AudioData{
		EventType: models.AudioInput,
		ByteData:  wavData,
		Format:    "wav",
		Length:    time.Duration(models.SamplesPerChannel(len(pcm), int(MyDeviceInputChannels))) * time.Second / time.Duration(MyDeviceSampleRate),
		Trace: models.Trace{
			DataName:  "audio_data",
			CreatedAt: time.Now(),
			Creator:   "microphone_client",
		},
	}
	m.recordingChan <- audioData
}
