package agent

import (
	"context"

	"github.com/dengfengjiang77/mangoesai/pkg/models"
)

type ModelQuality int

const (
	FastAndCheap ModelQuality = iota
	SlowerAndSmarter
)

func (m ModelQuality) String() string {
	names := [...]string{
		"FastAndCheap",
		"SlowerAndSmarter",
	}

	if m < FastAndCheap || m > SlowerAndSmarter {
		return "Unknown"
	}

	return names[m]
}

// ChatAgent streams the answer to the conversation into outputChan as text deltas,
// closes outputChan when done, and returns the full answer.
type ChatAgent interface {
	RunPrompt(ctx context.Context, modelQuality ModelQuality, conversation *models.Conversation, outputChan chan<- string) (string, error)
}
