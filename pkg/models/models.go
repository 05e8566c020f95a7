package models

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Trace struct {
	DataName  string
	CreatedAt time.Time
	Creator   string

	ReceivedAt time.Time

	ProcessedAt time.Time
	Processor   string
}

func (t Trace) Log() {
	log.Trace().Str("data_name", t.DataName).Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

type AudioDataEvent int

const (
	AudioInput AudioDataEvent = iota
	AudioOutput
	SubmitPrompt
)

// AudioData is a recorded (encoded) chunk of user audio travelling from the
// input device to the transcriber.
type AudioData struct {
	EventType AudioDataEvent
	ByteData  []byte
	Format    string
	Length    time.Duration
	Text      string // text representation
	Trace     Trace
}

func NewAudioDataSubmit(creator string) AudioData {
	return AudioData{
		EventType: SubmitPrompt,
		Trace:     NewTrace(creator),
	}
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEvent is emitted whenever a side of the conversation said something.
type TranscriptEvent struct {
	Role string
	Text string
	At   time.Time
}

type Message struct {
	Role       string
	Content    string
	FinishedAt time.Time
}

// Conversation for the Chat API. Safe for concurrent use.
type Conversation struct {
	StartedAt time.Time
	Messages  []Message

	mu sync.Mutex
}

// NewConversation starts a conversation with the given system prompt (skipped when empty).
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{StartedAt: time.Now()}
	if strings.TrimSpace(systemPrompt) != "" {
		c.Add(RoleSystem, systemPrompt)
	}
	return c
}

func NewConversationSimple(text string) *Conversation {
	c := NewConversation("")
	c.Add(RoleUser, text)
	return c
}

func (c *Conversation) Add(role string, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, Message{
		Role:       role,
		Content:    content,
		FinishedAt: time.Now(),
	})
}

// Snapshot returns a copy of the messages so far.
func (c *Conversation) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.Messages...)
}

func (c *Conversation) GetLastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Content
}

func (c *Conversation) DebugLog() {
	log.Debug().Msg("DUMPING FULL CONVERSATION")
	for i, message := range c.Snapshot() {
		at := message.FinishedAt.Sub(c.StartedAt)
		log.Debug().Int("i", i).Str("role", message.Role).Dur("since_started", at).Msg(message.Content)
	}
}
