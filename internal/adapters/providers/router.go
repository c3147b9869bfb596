package providers

import (
	"context"
	"fmt"

	"github.com/stoik/mailsub/internal/mailfetcher"
	"github.com/stoik/mailsub/internal/ports"
)

// Router implements ports.Mailbox by dispatching to a concrete provider
// adapter keyed by the account's credential provider ("google"/"microsoft").
// The Mail Fetcher stashes the account ID it's calling on behalf of into
// ctx (see mailfetcher.AccountID), which Router resolves to a provider via
// Storage before delegating.
type Router struct {
	Storage   ports.Storage
	Providers map[string]ports.Mailbox
}

// NewRouter returns a Router pre-populated with the Google and Microsoft
// adapters.
func NewRouter(storage ports.Storage) *Router {
	return &Router{
		Storage: storage,
		Providers: map[string]ports.Mailbox{
			"google":    NewGoogle(),
			"microsoft": NewMicrosoft(),
		},
	}
}

func (r *Router) resolve(ctx context.Context) (ports.Mailbox, error) {
	accountID, ok := mailfetcher.AccountID(ctx)
	if !ok {
		return nil, fmt.Errorf("providers: router called without an account in context")
	}
	account, err := r.Storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("providers: router load account: %w", err)
	}
	credential, err := r.Storage.GetCredential(ctx, account.Credential)
	if err != nil {
		return nil, fmt.Errorf("providers: router load credential: %w", err)
	}
	mailbox, ok := r.Providers[credential.Provider]
	if !ok {
		return nil, fmt.Errorf("providers: router: no adapter registered for provider %q", credential.Provider)
	}
	return mailbox, nil
}

func (r *Router) ListMessages(ctx context.Context, bearer, filter, pageToken string, pageSize int) (ports.MessagePage, error) {
	mailbox, err := r.resolve(ctx)
	if err != nil {
		return ports.MessagePage{}, err
	}
	return mailbox.ListMessages(ctx, bearer, filter, pageToken, pageSize)
}

func (r *Router) GetMessage(ctx context.Context, bearer, remoteID string) (ports.RawMessage, error) {
	mailbox, err := r.resolve(ctx)
	if err != nil {
		return ports.RawMessage{}, err
	}
	return mailbox.GetMessage(ctx, bearer, remoteID)
}
