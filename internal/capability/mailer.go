package capability

import (
	"context"
	"net/http"
)

// HTTPMailer delivers email through an external transactional-mail API.
type HTTPMailer struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

// NewHTTPMailer creates a mailer client. from is the sender address attached
// to every message.
func NewHTTPMailer(baseURL, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Send delivers a single HTML message.
func (m *HTTPMailer) Send(ctx context.Context, to, subject, html string) error {
	return httpJSON(ctx, m.client, http.MethodPost, m.baseURL+"/v1/send",
		map[string]string{"Authorization": "Bearer " + m.apiKey},
		map[string]any{
			"from":    m.from,
			"to":      to,
			"subject": subject,
			"html":    html,
		}, nil)
}

var _ Mailer = (*HTTPMailer)(nil)
