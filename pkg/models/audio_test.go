package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSilenceSentinel(t *testing.T) {
	unit := NewSilenceSentinel(44100, 1)

	assert.Equal(t, 80, unit.Frame.SamplesPerChannel)
	assert.Equal(t, 44100, unit.Frame.SampleRate)
	assert.Equal(t, 1, unit.Frame.NumChannels)
	assert.Equal(t, make([]byte, 160), unit.Frame.Data)
	assert.Regexp(t, `^error-[0-9a-f]{8}$`, unit.RequestID)
	assert.True(t, unit.IsError())
}

func TestNewSilenceSentinel_UniqueIDs(t *testing.T) {
	a := NewSilenceSentinel(44100, 1)
	b := NewSilenceSentinel(44100, 1)
	assert.NotEqual(t, a.RequestID, b.RequestID)
}

func TestSamplesPerChannel(t *testing.T) {
	assert.Equal(t, 80, SamplesPerChannel(160, 1))
	assert.Equal(t, 2, SamplesPerChannel(4, 1))
	assert.Equal(t, 2, SamplesPerChannel(5, 1))
	assert.Equal(t, 40, SamplesPerChannel(160, 2))
	assert.Equal(t, 0, SamplesPerChannel(160, 0))
}

func TestAudioFrameDuration(t *testing.T) {
	frame := NewAudioFrame(make([]byte, 88200), 44100, 1)
	assert.Equal(t, time.Second, frame.Duration())
	assert.Equal(t, time.Duration(0), AudioFrame{}.Duration())
}

func TestConversation(t *testing.T) {
	c := NewConversation("be brief")
	c.Add(RoleUser, "hi")

	messages := c.Snapshot()
	assert.Len(t, messages, 2)
	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Equal(t, "hi", c.GetLastPrompt())

	assert.Len(t, NewConversation("  ").Snapshot(), 0)
}
