package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stoik/mailsub/internal/domain"
)

// DefaultTruncateChars is the hard cap on body content sent to the LM when
// the Client carries no explicit ContentTruncateChars.
const DefaultTruncateChars = 4000

const truncationMarker = "\n...[truncated]"

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	breakRe       = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</h[1-6]>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
)

var entities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": "\"",
	"&#39;":  "'",
	"&nbsp;": " ",
}

// stripHTML reduces HTML to approximate plain text: remove <script>/<style>
// with their content, translate <br>/</p>/</div>/closing header tags to
// newlines, drop remaining tags, decode a small fixed entity set, collapse
// 3+ consecutive newlines to 2.
func stripHTML(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, "")
	text = breakRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	for entity, replacement := range entities {
		text = strings.ReplaceAll(text, entity, replacement)
	}
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// prepareBody prefers the plain-text body; falls back to a stripped HTML
// body; truncates to truncateChars with an explicit marker.
func prepareBody(row domain.MailRow, truncateChars int) string {
	body := row.BodyText
	if body == "" {
		body = stripHTML(row.BodyHTML)
	}
	if len(body) > truncateChars {
		cut := truncateChars - len(truncationMarker)
		if cut < 0 {
			cut = 0
		}
		body = body[:cut] + truncationMarker
	}
	return body
}

const promptTemplate = `You are a classifier that decides whether an email describes a recurring subscription charge.

Subject: %s
Sender: %s
Date: %s
Body:
%s

Respond with a single JSON object with exactly these fields: is_subscription (boolean), confidence (number between 0 and 1), service_name (string or null), amount (number or null), currency (string or null), billing_cycle (one of "monthly","yearly","weekly","quarterly", or null), next_billing_date (string "YYYY-MM-DD" or null), reasoning (short string explaining the decision). Return only the JSON object, no other text.`

// buildPrompt fills the fixed template with the row's subject, sender, ISO-8601 date and prepared body.
func buildPrompt(row domain.MailRow, truncateChars int) string {
	return fmt.Sprintf(promptTemplate, row.Subject, row.SenderEmail, row.ReceivedAt.Format("2006-01-02T15:04:05Z07:00"), prepareBody(row, truncateChars))
}
