package pushsvc

import (
	"context"
	"sync"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/notify"
)

// Sent is one recorded push call.
type Sent struct {
	Tokens  []string
	Message notify.Message
}

// ConsoleSender logs push messages instead of sending them.
type ConsoleSender struct {
	logger core.Logger

	mu   sync.Mutex
	sent []Sent
}

var _ notify.PushSender = (*ConsoleSender)(nil)

func NewConsoleSender(logger core.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) SendPush(ctx context.Context, tokens []string, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, Sent{Tokens: append([]string(nil), tokens...), Message: msg})
	s.mu.Unlock()
	s.logger.Debug("push: "+msg.Title, map[string]interface{}{"body": msg.Body, "recipients": len(tokens), "data": msg.Data})
	return nil
}

// SentMessages returns the recorded push calls.
func (s *ConsoleSender) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}
