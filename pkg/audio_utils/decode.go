package audio_utils

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StreamEncoding says how the bytes of a streamed audio body are to be interpreted.
type StreamEncoding string

const (
	EncodingRaw  StreamEncoding = "raw" // S16LE PCM, no header
	EncodingMp3  StreamEncoding = "mp3"
	EncodingFlac StreamEncoding = "flac"
)

const DefaultChunkSize = 4096

// maxEmptyReads bounds how many (0, nil) reads are tolerated in a row, same as bufio.
const maxEmptyReads = 100

func ParseStreamEncoding(s string) (StreamEncoding, error) {
	switch e := StreamEncoding(strings.ToLower(strings.TrimSpace(s))); e {
	case EncodingRaw, EncodingMp3, EncodingFlac:
		return e, nil
	case "pcm":
		return EncodingRaw, nil
	default:
		return "", errors.Errorf("unknown stream encoding %q, expected raw|mp3|flac", s)
	}
}

// StreamDecoder turns an audio body into S16LE PCM chunks as the bytes arrive.
type StreamDecoder interface {
	// Next returns the next non-empty chunk, or io.EOF once the stream is exhausted.
	Next() ([]byte, error)
	SampleRate() int
	NumChannels() int
}

// NewStreamDecoder wraps r. sampleRate and numChannels describe raw streams only,
// compressed streams carry their own rate and are mixed down to mono.
func NewStreamDecoder(encoding StreamEncoding, r io.Reader, sampleRate int, numChannels int, chunkSize int) (StreamDecoder, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	switch encoding {
	case EncodingRaw, "":
		if numChannels <= 0 {
			numChannels = 1
		}
		return &rawDecoder{
			r:          r,
			buf:        make([]byte, chunkSize),
			frameBytes: 2 * numChannels,
			sampleRate: sampleRate,
			channels:   numChannels,
		}, nil
	case EncodingMp3:
		decoder, err := mp3.NewDecoder(r)
		if err != nil {
			return nil, errors.Wrap(err, "cannot start mp3 decoder")
		}
		// go-mp3 always produces S16LE stereo, i.e. 4 bytes per sample frame.
		size := chunkSize - chunkSize%4
		if size == 0 {
			size = 4
		}
		return &mp3Decoder{decoder: decoder, buf: make([]byte, size)}, nil
	case EncodingFlac:
		stream, err := flac.New(r)
		if err != nil {
			return nil, errors.Wrap(err, "cannot start flac decoder")
		}
		return &flacDecoder{stream: stream}, nil
	default:
		return nil, errors.Errorf("unsupported stream encoding %q", encoding)
	}
}

// rawDecoder hands out what every Read returns, holding back a partial sample frame
// until the rest of it arrives.
type rawDecoder struct {
	r          io.Reader
	buf        []byte
	carry      []byte
	err        error
	frameBytes int
	sampleRate int
	channels   int
}

func (d *rawDecoder) Next() ([]byte, error) {
	emptyReads := 0
	for {
		if d.err != nil {
			if len(d.carry) > 0 {
				log.Debug().Int("dropped_bytes", len(d.carry)).Msg("raw stream ended mid sample")
				d.carry = nil
			}
			return nil, d.err
		}

		n, err := d.r.Read(d.buf)
		d.err = err
		if n == 0 {
			if err == nil {
				emptyReads++
				if emptyReads >= maxEmptyReads {
					d.err = io.ErrNoProgress
				}
			}
			continue
		}
		emptyReads = 0

		data := append(d.carry, d.buf[:n]...)
		aligned := len(data) - len(data)%d.frameBytes
		chunk := make([]byte, aligned)
		copy(chunk, data[:aligned])
		d.carry = append([]byte(nil), data[aligned:]...)
		if aligned > 0 {
			return chunk, nil
		}
	}
}

func (d *rawDecoder) SampleRate() int  { return d.sampleRate }
func (d *rawDecoder) NumChannels() int { return d.channels }

type mp3Decoder struct {
	decoder *mp3.Decoder
	buf     []byte
	err     error
}

func (d *mp3Decoder) Next() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	n, err := io.ReadFull(d.decoder, d.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		d.err = io.EOF
	} else if err != nil {
		d.err = errors.Wrap(err, "cannot decode mp3")
	}
	n -= n % 4
	if n == 0 {
		return nil, d.err
	}
	return StereoToMono(d.buf[:n]), nil
}

func (d *mp3Decoder) SampleRate() int  { return d.decoder.SampleRate() }
func (d *mp3Decoder) NumChannels() int { return 1 }

type flacDecoder struct {
	stream *flac.Stream
}

func (d *flacDecoder) Next() ([]byte, error) {
	for {
		f, err := d.stream.ParseNext()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, "cannot decode flac frame")
		}
		if len(f.Subframes) == 0 || len(f.Subframes[0].Samples) == 0 {
			continue
		}

		shift := int(d.stream.Info.BitsPerSample) - 16
		numSamples := len(f.Subframes[0].Samples)
		out := make([]byte, 2*numSamples)
		for i := 0; i < numSamples; i++ {
			var sum int64
			for _, sub := range f.Subframes {
				sum += int64(sub.Samples[i])
			}
			value := sum / int64(len(f.Subframes))
			if shift > 0 {
				value >>= uint(shift)
			} else if shift < 0 {
				value <<= uint(-shift)
			}
			binary.LittleEndian.PutUint16(out[2*i:], uint16(clampInt16(value)))
		}
		return out, nil
	}
}

func (d *flacDecoder) SampleRate() int  { return int(d.stream.Info.SampleRate) }
func (d *flacDecoder) NumChannels() int { return 1 }

// StereoToMono averages interleaved S16LE stereo into S16LE mono.
func StereoToMono(stereo []byte) []byte {
	frames := len(stereo) / 4
	mono := make([]byte, 2*frames)
	for i := 0; i < frames; i++ {
		left := int64(int16(binary.LittleEndian.Uint16(stereo[4*i:])))
		right := int64(int16(binary.LittleEndian.Uint16(stereo[4*i+2:])))
		binary.LittleEndian.PutUint16(mono[2*i:], uint16(int16((left+right)/2)))
	}
	return mono
}

func clampInt16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
