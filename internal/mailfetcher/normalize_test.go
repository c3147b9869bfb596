package mailfetcher

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stoik/mailsub/internal/ports"
	"github.com/stretchr/testify/assert"
)

func TestHTMLToText_StripsTagsAndDecodesEntities(t *testing.T) {
	html := "<p>Hello &amp; welcome, <b>friend</b>!&nbsp;Enjoy.</p>"
	assert.Equal(t, "Hello & welcome, friend ! Enjoy.", HTMLToText(html))
}

func TestExtractBodies_PrefersPlainText(t *testing.T) {
	plain := base64.URLEncoding.EncodeToString([]byte("plain body"))
	html := base64.URLEncoding.EncodeToString([]byte("<p>html body</p>"))
	part := ports.MIMEPart{
		MIMEType: "multipart/alternative",
		Parts: []ports.MIMEPart{
			{MIMEType: "text/plain", Body: plain},
			{MIMEType: "text/html", Body: html},
		},
	}
	text, htmlOut := ExtractBodies(part)
	assert.Equal(t, "plain body", text)
	assert.Equal(t, "<p>html body</p>", htmlOut)
}

func TestExtractBodies_FallsBackToHTMLWhenNoPlainText(t *testing.T) {
	html := base64.URLEncoding.EncodeToString([]byte("<p>only html</p>"))
	part := ports.MIMEPart{MIMEType: "text/html", Body: html}
	text, _ := ExtractBodies(part)
	assert.Equal(t, "only html", text)
}

func TestExtractBodies_BadBase64YieldsEmptyNotError(t *testing.T) {
	part := ports.MIMEPart{MIMEType: "text/plain", Body: "!!!not-base64!!!"}
	text, html := ExtractBodies(part)
	assert.Equal(t, "", text)
	assert.Equal(t, "", html)
}

func TestNormalize_SenderBracketExtraction(t *testing.T) {
	raw := ports.RawMessage{
		ID: "m1",
		Headers: map[string][]string{
			"Subject": {"Your Netflix receipt"},
			"From":    {"Netflix Billing <billing@netflix.com>"},
		},
		InternalMillis: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC).UnixMilli(),
	}
	msg := Normalize(raw)
	assert.Equal(t, "billing@netflix.com", msg.SenderEmail)
	assert.Equal(t, "Your Netflix receipt", msg.Subject)
	assert.Equal(t, 2026, msg.ReceivedAt.Year())
}

func TestNormalize_SenderWithoutBracketsUsesWholeValue(t *testing.T) {
	raw := ports.RawMessage{
		Headers: map[string][]string{"From": {"billing@netflix.com"}},
	}
	msg := Normalize(raw)
	assert.Equal(t, "billing@netflix.com", msg.SenderEmail)
}
