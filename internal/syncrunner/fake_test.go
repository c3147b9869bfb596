package syncrunner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/ports"
)

// fakeMailbox serves a fixed total of messages, paginated at whatever page
// size the caller asks for, optionally failing after a configured number of
// ListMessages calls to simulate a mid-run crash.
type fakeMailbox struct {
	totalMessages int
	failAfterList int // 0 = never fail
	listCalls     int
}

func (f *fakeMailbox) ListMessages(_ context.Context, _ string, _ string, pageToken string, pageSize int) (ports.MessagePage, error) {
	f.listCalls++
	if f.failAfterList > 0 && f.listCalls > f.failAfterList {
		return ports.MessagePage{}, ErrNetwork
	}

	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &start)
	}
	end := start + pageSize
	if end > f.totalMessages {
		end = f.totalMessages
	}

	ids := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		ids = append(ids, fmt.Sprintf("m%d", i))
	}

	next := ""
	if end < f.totalMessages {
		next = fmt.Sprintf("%d", end)
	}
	return ports.MessagePage{MessageIDs: ids, NextPageToken: next}, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, _ string, remoteID string) (ports.RawMessage, error) {
	return ports.RawMessage{
		ID: remoteID,
		Headers: map[string][]string{
			"Subject": {"Test message " + remoteID},
			"From":    {"sender@example.com"},
		},
		MIME: ports.MIMEPart{MIMEType: "text/plain", Body: ""},
	}, nil
}

type fakeBroker struct{}

func (fakeBroker) AccessToken(context.Context, uuid.UUID) (string, error) {
	return "bearer", nil
}
