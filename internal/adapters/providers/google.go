// Package providers holds the concrete ports.Mailbox implementations the
// Mail Fetcher drives. Adapted from JeromeDesseaux-test_stoik's
// google_client.go/microsoft_client.go mock clients, rebuilt against real
// REST endpoints and the two-operation list/fetch contract instead of
// returning canned fixtures.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/stoik/mailsub/internal/ports"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// Google implements ports.Mailbox against the Gmail API. The Query
// Builder's filter is Gmail search syntax already (subject:/from:/after:),
// so it is passed straight through as the `q` parameter.
type Google struct {
	HTTPClient *http.Client
	BaseURL    string // overridable for tests; defaults to gmailBaseURL
}

// NewGoogle returns a Google provider using http.DefaultClient.
func NewGoogle() *Google {
	return &Google{HTTPClient: http.DefaultClient, BaseURL: gmailBaseURL}
}

func (g *Google) client() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

func (g *Google) baseURL() string {
	if g.BaseURL != "" {
		return g.BaseURL
	}
	return gmailBaseURL
}

type gmailListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// ListMessages lists one page of message IDs matching filter (a Gmail `q`
// search expression).
func (g *Google) ListMessages(ctx context.Context, bearer, filter, pageToken string, pageSize int) (ports.MessagePage, error) {
	q := url.Values{}
	q.Set("q", filter)
	q.Set("maxResults", fmt.Sprintf("%d", pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var parsed gmailListResponse
	if err := g.get(ctx, bearer, "/messages?"+q.Encode(), &parsed); err != nil {
		return ports.MessagePage{}, err
	}

	ids := make([]string, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		ids = append(ids, m.ID)
	}
	return ports.MessagePage{MessageIDs: ids, NextPageToken: parsed.NextPageToken}, nil
}

type gmailMessagePart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts   []gmailMessagePart `json:"parts"`
	Headers []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
}

type gmailMessage struct {
	ID           string           `json:"id"`
	InternalDate string           `json:"internalDate"`
	Payload      gmailMessagePart `json:"payload"`
}

// GetMessage fetches one message's full payload.
func (g *Google) GetMessage(ctx context.Context, bearer, remoteID string) (ports.RawMessage, error) {
	q := url.Values{}
	q.Set("format", "full")

	var parsed gmailMessage
	if err := g.get(ctx, bearer, "/messages/"+url.PathEscape(remoteID)+"?"+q.Encode(), &parsed); err != nil {
		return ports.RawMessage{}, err
	}

	return ports.RawMessage{
		ID:             parsed.ID,
		Headers:        headersOf(parsed.Payload),
		InternalMillis: parseMillis(parsed.InternalDate),
		MIME:           toMIMEPart(parsed.Payload),
	}, nil
}

func headersOf(part gmailMessagePart) map[string][]string {
	out := map[string][]string{}
	for _, h := range part.Headers {
		out[h.Name] = append(out[h.Name], h.Value)
	}
	return out
}

func toMIMEPart(part gmailMessagePart) ports.MIMEPart {
	children := make([]ports.MIMEPart, 0, len(part.Parts))
	for _, p := range part.Parts {
		children = append(children, toMIMEPart(p))
	}
	return ports.MIMEPart{
		MIMEType: part.MimeType,
		Body:     part.Body.Data,
		Parts:    children,
	}
}

func parseMillis(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func (g *Google) get(ctx context.Context, bearer, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("providers: build gmail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := g.client().Do(req)
	if err != nil {
		return fmt.Errorf("providers: gmail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The message text carries the status code and http.StatusText
		// ("Too Many Requests", "Unauthorized", "Forbidden") so
		// syncrunner.classify's text-heuristic fallback can bucket it (429 is
		// recognised by its code) without this package importing syncrunner.
		return fmt.Errorf("providers: gmail request failed: status %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("providers: decode gmail response: %w", err)
	}
	return nil
}
