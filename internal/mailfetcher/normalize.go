// Package mailfetcher implements the Mail Fetcher: paginates the remote
// mailbox under a filter, fetches per-message details, decodes MIME parts,
// and normalises headers and bodies before persistence. MIME-walking and
// HTML-stripping are adapted from jhjaggars-package-tracking's
// extractContent/htmlToText — the contract here is "reduce to approximate
// plain text", not a full HTML parser.
package mailfetcher

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"github.com/stoik/mailsub/internal/ports"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)
var whitespaceRe = regexp.MustCompile(`\s+`)

var htmlEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": "\"",
	"&#39;":  "'",
	"&nbsp;": " ",
}

// HTMLToText reduces HTML to approximate plain text: strip tags, decode a
// small fixed entity table, collapse whitespace.
func HTMLToText(html string) string {
	text := tagRe.ReplaceAllString(html, " ")
	for entity, replacement := range htmlEntities {
		text = strings.ReplaceAll(text, entity, replacement)
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractBodies recursively walks a MIME tree, preferring the first
// plain-text part found and falling back to the first HTML part stripped to
// text when no plain-text part exists. Base64 decode failures in any single
// part yield an empty string for that part rather than failing the message.
func ExtractBodies(part ports.MIMEPart) (text, html string) {
	text, html = walkMIME(part)
	if text == "" && html != "" {
		text = HTMLToText(html)
	}
	return text, html
}

func walkMIME(part ports.MIMEPart) (text, html string) {
	switch {
	case part.MIMEType == "text/plain" && part.Body != "":
		text = decodeBody(part.Body)
	case part.MIMEType == "text/html" && part.Body != "":
		html = decodeBody(part.Body)
	}

	for _, child := range part.Parts {
		childText, childHTML := walkMIME(child)
		if text == "" && childText != "" {
			text = childText
		}
		if html == "" && childHTML != "" {
			html = childHTML
		}
	}
	return text, html
}

// decodeBody URL-safe-base64 decodes a MIME part body. A decode failure
// yields an empty string but never an error — a single bad part must not
// fail the message.
func decodeBody(encoded string) string {
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// NormalizedMessage is the Mail Fetcher's output, ready for the Mail Store
// upsert.
type NormalizedMessage struct {
	RemoteID    string
	Subject     string
	SenderEmail string
	BodyText    string
	BodyHTML    string
	ReceivedAt  time.Time
}

// Normalize applies the header and body normalisation rules: subject/from
// read case-insensitively, sender address is the bracketed form inside
// `<...>` when present, bodies extracted per ExtractBodies, received-at from
// the provider's internal millisecond timestamp.
func Normalize(raw ports.RawMessage) NormalizedMessage {
	subject := firstHeader(raw.Headers, "subject")
	from := firstHeader(raw.Headers, "from")
	text, html := ExtractBodies(raw.MIME)

	return NormalizedMessage{
		RemoteID:    raw.ID,
		Subject:     subject,
		SenderEmail: extractSenderAddress(from),
		BodyText:    text,
		BodyHTML:    html,
		ReceivedAt:  time.UnixMilli(raw.InternalMillis).UTC(),
	}
}

func firstHeader(headers map[string][]string, name string) string {
	for key, values := range headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// extractSenderAddress returns the bracketed address inside `<...>` if
// present, otherwise the whole From value.
func extractSenderAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(from[start+1 : end])
	}
	return strings.TrimSpace(from)
}
