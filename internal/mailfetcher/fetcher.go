package mailfetcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
)

// Fetcher drives a ports.Mailbox under a bearer minted per call by the Token
// Broker.
type Fetcher struct {
	Mailbox ports.Mailbox
	Broker  ports.TokenBroker
}

// New returns a Fetcher.
func New(mailbox ports.Mailbox, broker ports.TokenBroker) *Fetcher {
	return &Fetcher{Mailbox: mailbox, Broker: broker}
}

// accountIDKey carries the account being fetched for into ctx, so a
// multi-provider ports.Mailbox (internal/adapters/providers.Router) can pick
// the right concrete adapter without widening the Mailbox interface itself.
type accountIDKey struct{}

// ListPage lists one page of remote message IDs under filter.
func (f *Fetcher) ListPage(ctx context.Context, accountID uuid.UUID, filter, pageToken string, pageSize int) (ports.MessagePage, error) {
	bearer, err := f.Broker.AccessToken(ctx, accountID)
	if err != nil {
		return ports.MessagePage{}, fmt.Errorf("mailfetcher: access token: %w", err)
	}
	ctx = context.WithValue(ctx, accountIDKey{}, accountID)
	return f.Mailbox.ListMessages(ctx, bearer, filter, pageToken, pageSize)
}

// FetchNormalized fetches and normalises a single message.
func (f *Fetcher) FetchNormalized(ctx context.Context, accountID uuid.UUID, remoteID string) (NormalizedMessage, error) {
	bearer, err := f.Broker.AccessToken(ctx, accountID)
	if err != nil {
		return NormalizedMessage{}, fmt.Errorf("mailfetcher: access token: %w", err)
	}
	ctx = context.WithValue(ctx, accountIDKey{}, accountID)
	raw, err := f.Mailbox.GetMessage(ctx, bearer, remoteID)
	if err != nil {
		return NormalizedMessage{}, fmt.Errorf("mailfetcher: get message %s: %w", remoteID, err)
	}
	return Normalize(raw), nil
}

// AccountID extracts the account ID stashed by ListPage/FetchNormalized, for
// a ports.Mailbox that needs to route per-account (internal/adapters/providers.Router).
func AccountID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountIDKey{}).(uuid.UUID)
	return id, ok
}

// ContextWithAccountID stashes accountID the same way ListPage/FetchNormalized
// do, for tests of a downstream ports.Mailbox that routes on it.
func ContextWithAccountID(ctx context.Context, accountID uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey{}, accountID)
}

// ToMailRow converts a normalised message into the persistence shape for an
// upsert. ID is left unset; the store assigns one, or keeps the existing
// row's ID when the upsert matches.
func ToMailRow(accountID uuid.UUID, msg NormalizedMessage) domain.MailRow {
	return domain.MailRow{
		AccountID:       accountID,
		RemoteMessageID: msg.RemoteID,
		Subject:         msg.Subject,
		SenderEmail:     msg.SenderEmail,
		BodyText:        msg.BodyText,
		BodyHTML:        msg.BodyHTML,
		ReceivedAt:      msg.ReceivedAt,
	}
}
