package audio_utils

import (
	"encoding/binary"
	"io"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

const (
	wavBitDepth       = 16
	wavPCMAudioFormat = 1
)

// ConvertTwoByteSamplesToWav assumes S16LE encoding (or two bytes per value)
func ConvertTwoByteSamplesToWav(byteData []byte, sampleRate uint32, numChannels uint32) (result []byte, err error) {
	if len(byteData) == 0 {
		return // Nothing to do
	}

	// wav.Encoder needs an io.WriteSeeker to finalize headers, so we go through an in-memory file.
	fs := afero.NewMemMapFs()
	inMemoryFilename := "in-memory-output.wav"
	if err = WriteWav(fs, inMemoryFilename, byteData, sampleRate, numChannels); err != nil {
		return
	}

	inMemoryFile, err := fs.Open(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot reopen in-memory wav")
		return
	}
	defer func() { dbg(inMemoryFile.Close()) }()

	result, err = io.ReadAll(inMemoryFile)
	if err != nil {
		err = errors.Wrap(err, "cannot read in-memory wav")
		return
	}
	if len(result) == 0 {
		err = errors.New("wav output is empty when input was not")
	}
	return
}

// WriteWav encodes S16LE samples as a PCM wav file at path on fs, creating parent directories.
func WriteWav(fs afero.Fs, path string, byteData []byte, sampleRate uint32, numChannels uint32) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "cannot create directory for %s", path)
	}
	file, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", path)
	}
	defer func() { dbg(file.Close()) }()

	inputBuffer := &audio.IntBuffer{
		Data: TwoByteDataToIntSlice(byteData),
		Format: &audio.Format{
			SampleRate:  int(sampleRate),
			NumChannels: int(numChannels),
		},
		SourceBitDepth: wavBitDepth,
	}

	wavEncoder := wav.NewEncoder(file, int(sampleRate), wavBitDepth, int(numChannels), wavPCMAudioFormat)
	log.Debug().Str("path", path).Int("int_data_length", len(inputBuffer.Data)).Uint32("sample_rate", sampleRate).Uint32("num_channels", numChannels).Msg("encoding pcm as wav")
	if err = wavEncoder.Write(inputBuffer); err != nil {
		return errors.Wrap(err, "cannot encode byte output as wav")
	}
	// Close flushes any remaining data and finalizes the headers.
	if err = wavEncoder.Close(); err != nil {
		return errors.Wrap(err, "cannot finish wav encoding")
	}
	return nil
}

// TwoByteDataToIntSlice reads signed 16-bit little-endian samples, dropping a trailing odd byte.
func TwoByteDataToIntSlice(audioData []byte) []int {
	intData := make([]int, len(audioData)/2)
	for i := range intData {
		intData[i] = int(int16(binary.LittleEndian.Uint16(audioData[2*i : 2*i+2])))
	}
	return intData
}
