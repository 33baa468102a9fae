package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rloza/tramite/pkg/schema"
)

// The engine treats side-effecting integrations as capability providers: the
// document parser, document generator, mailer, and spreadsheet reader are
// external services invoked over HTTP/JSON. Executors depend only on these
// interfaces; tests substitute fakes.

// ErrTokenExpired is returned by the Sheets provider when the OAuth access
// token has expired. Callers refresh once and retry before failing.
var ErrTokenExpired = errors.New("access token expired")

// FileRef identifies a document either by stored file ID or by URL.
type FileRef struct {
	FileID  string `json:"file_id,omitempty"`
	FileURL string `json:"file_url,omitempty"`
}

// DocumentParser extracts structured fields from an uploaded document.
type DocumentParser interface {
	Parse(ctx context.Context, ref FileRef, fields []string) (map[string]any, error)
}

// GeneratedFile is the result of a document generation request.
type GeneratedFile struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
}

// DocumentGenerator renders a template (or inline content) into a document.
type DocumentGenerator interface {
	Generate(ctx context.Context, templateID string, mapping map[string]any, content string) (*GeneratedFile, error)
}

// Mailer delivers outbound email.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Sheets reads spreadsheet data on behalf of an organization's OAuth grant.
type Sheets interface {
	// ReadSheet returns all rows of the named sheet as string cells.
	ReadSheet(ctx context.Context, token, spreadsheetID, sheetName string) ([][]string, error)
	// RefreshToken exchanges a refresh token for a fresh access token.
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

const defaultTimeout = 30 * time.Second

// httpJSON posts a JSON payload and decodes a JSON response, converting
// transport and non-2xx failures into capability errors.
func httpJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeCapability, "marshal request: %s", err.Error()).WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCapability, "build request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCapability, "request %s: %s", url, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCapability, "read response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrTokenExpired
	}
	if resp.StatusCode >= 400 {
		return schema.NewErrorf(schema.ErrCodeCapability,
			"%s returned %d: %s", url, resp.StatusCode, truncate(string(data), 512))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return schema.NewErrorf(schema.ErrCodeCapability, "decode response: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
