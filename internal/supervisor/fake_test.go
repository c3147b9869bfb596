package supervisor

import (
	"context"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
)

// stubMailbox serves zero messages; these tests only exercise the guard and
// the boot-time resume transition, not the runners' own fetch logic.
type stubMailbox struct{}

func (stubMailbox) ListMessages(context.Context, string, string, string, int) (ports.MessagePage, error) {
	return ports.MessagePage{}, nil
}

func (stubMailbox) GetMessage(context.Context, string, string) (ports.RawMessage, error) {
	return ports.RawMessage{}, nil
}

type stubBroker struct{}

func (stubBroker) AccessToken(context.Context, uuid.UUID) (string, error) {
	return "bearer", nil
}

// stubLMClassifier is always disabled, so the Process Runner falls back to
// keywords without making any HTTP call.
type stubLMClassifier struct{}

func (stubLMClassifier) Enabled() bool { return false }

func (stubLMClassifier) Classify(context.Context, domain.MailRow) (ports.Verdict, ports.Usage, error) {
	return ports.Verdict{}, ports.Usage{}, nil
}
