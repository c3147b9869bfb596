package processrunner

import (
	"context"
	"errors"

	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
)

// fakeLM returns a fixed verdict/usage, or fails every call when failAlways
// is set, or is reported disabled when enabled is false.
type fakeLM struct {
	enabled    bool
	failAlways bool
	verdict    ports.Verdict
	usage      ports.Usage
	calls      int
}

func (f *fakeLM) Enabled() bool { return f.enabled }

func (f *fakeLM) Classify(_ context.Context, _ domain.MailRow) (ports.Verdict, ports.Usage, error) {
	f.calls++
	if f.failAlways {
		return ports.Verdict{}, ports.Usage{}, errors.New("lm: simulated failure")
	}
	return f.verdict, f.usage, nil
}
