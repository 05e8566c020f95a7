// Package transcript keeps what the user and the agent said during a session.
package transcript

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const DefaultPath = "./transcripts/stt_transcripts.txt"

// Log is safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	user  []string
	agent []string
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) AddUser(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user = append(l.user, text)
	log.Info().Str("text", text).Int("user_lines", len(l.user)).Msg("user said")
}

func (l *Log) AddAgent(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.agent = append(l.agent, text)
	log.Info().Str("text", text).Int("agent_lines", len(l.agent)).Msg("agent said")
}

// Add routes the event by its role, system messages are not kept.
func (l *Log) Add(event models.TranscriptEvent) {
	switch event.Role {
	case models.RoleUser:
		l.AddUser(event.Text)
	case models.RoleAssistant:
		l.AddAgent(event.Text)
	}
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.user) + len(l.agent)
}

// Render returns the file contents Save writes.
func (l *Log) Render() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteString("=== User Transcripts ===\n")
	for i, line := range l.user {
		fmt.Fprintf(&buf, "User %d: %s\n", i+1, line)
	}
	buf.WriteString("\n=== Agent Transcripts ===\n")
	for i, line := range l.agent {
		fmt.Fprintf(&buf, "Agent %d: %s\n", i+1, line)
	}
	return buf.Bytes()
}

// Save overwrites path, creating its directory when missing.
func (l *Log) Save(fs afero.Fs, path string) error {
	if path == "" {
		path = DefaultPath
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create transcripts dir for %s", path)
	}
	if err := afero.WriteFile(fs, path, l.Render(), 0o644); err != nil {
		return errors.Wrapf(err, "cannot write transcripts to %s", path)
	}
	log.Info().Str("path", path).Int("lines", l.Len()).Msg("transcripts saved")
	return nil
}
