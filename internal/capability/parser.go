package capability

import (
	"context"
	"net/http"

	"github.com/rloza/tramite/pkg/schema"
)

// HTTPDocumentParser calls an external document-parsing service.
type HTTPDocumentParser struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPDocumentParser creates a parser client for the given service.
func NewHTTPDocumentParser(baseURL, apiKey string) *HTTPDocumentParser {
	return &HTTPDocumentParser{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Parse submits the file reference and the fields to extract, returning the
// extracted field map.
func (p *HTTPDocumentParser) Parse(ctx context.Context, ref FileRef, fields []string) (map[string]any, error) {
	if ref.FileID == "" && ref.FileURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "document parse: empty file reference")
	}

	var resp struct {
		Fields map[string]any `json:"fields"`
	}
	err := httpJSON(ctx, p.client, http.MethodPost, p.baseURL+"/v1/parse",
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		map[string]any{
			"file_id":  ref.FileID,
			"file_url": ref.FileURL,
			"fields":   fields,
		}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Fields == nil {
		resp.Fields = map[string]any{}
	}
	return resp.Fields, nil
}

var _ DocumentParser = (*HTTPDocumentParser)(nil)
