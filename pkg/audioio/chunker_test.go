package audioio

import (
	"encoding/binary"
	"testing"

	"github.com/dengfengjiang77/mangoesai/pkg/vad"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 16000

func tone(value int16, ms int) []byte {
	samples := testRate * ms / 1000
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(value))
	}
	return data
}

func TestPhraseChunker_CutsAtPause(t *testing.T) {
	c := newPhraseChunker(vad.NewEnergyDetector(500, 20), testRate, 1)

	assert.Nil(t, c.append(tone(4000, 1000)), "too short to look for a pause")
	assert.Nil(t, c.append(tone(0, 500)))
	phrase := c.append(tone(4000, 600))

	require.NotNil(t, phrase)
	assert.Equal(t, len(tone(0, 1500)), len(phrase))
	assert.Equal(t, len(tone(0, 600)), len(c.finish()))
	assert.Empty(t, c.finish())
	assert.Equal(t, len(tone(0, 2100)), len(c.all()))
}

func TestPhraseChunker_WaitsWithoutPause(t *testing.T) {
	c := newPhraseChunker(vad.NewEnergyDetector(500, 20), testRate, 1)

	assert.Nil(t, c.append(tone(4000, 3000)))
	assert.Equal(t, len(tone(0, 3000)), len(c.finish()))
}

func TestPhraseChunker_IgnoresPauseRightAtStart(t *testing.T) {
	c := newPhraseChunker(vad.NewEnergyDetector(500, 20), testRate, 1)

	assert.Nil(t, c.append(tone(0, 100)))
	assert.Nil(t, c.append(tone(4000, 2500)))
}
