package ports

import "context"

// MessagePage is one page of remote message IDs under a filter. NextPageToken
// is empty on the last page.
type MessagePage struct {
	MessageIDs    []string
	NextPageToken string
}

// RawMessage is the provider's full-message payload, ahead of MIME decoding
// and header normalisation. Headers are the raw header lines as the provider
// returned them (case as-received; the Mail Fetcher reads them
// case-insensitively).
type RawMessage struct {
	ID             string
	Headers        map[string][]string
	InternalMillis int64
	MIME           MIMEPart
}

// MIMEPart is a single node in a message's MIME tree. Leaf parts carry Body
// (base64, URL-safe, per the provider's wire format); container parts carry
// Parts and no Body.
type MIMEPart struct {
	MIMEType string
	Body     string
	Parts    []MIMEPart
}

// Mailbox is the two-operation contract the Mail Fetcher drives: list a page
// of message IDs under a filter, and fetch one message's full payload. Both
// take a bearer token per call, minted fresh by the Token Broker — a
// concrete provider adapter (internal/adapters/providers) never caches or
// refreshes it itself.
type Mailbox interface {
	ListMessages(ctx context.Context, bearer, filter, pageToken string, pageSize int) (MessagePage, error)
	GetMessage(ctx context.Context, bearer, remoteID string) (RawMessage, error)
}
