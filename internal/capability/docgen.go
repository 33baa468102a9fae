package capability

import (
	"context"
	"net/http"

	"github.com/rloza/tramite/pkg/schema"
)

// HTTPDocumentGenerator calls an external document-generation service.
type HTTPDocumentGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPDocumentGenerator creates a generator client for the given service.
func NewHTTPDocumentGenerator(baseURL, apiKey string) *HTTPDocumentGenerator {
	return &HTTPDocumentGenerator{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Generate renders either a stored template with a field mapping or an inline
// content string, returning the produced file's URL and name.
func (g *HTTPDocumentGenerator) Generate(ctx context.Context, templateID string, mapping map[string]any, content string) (*GeneratedFile, error) {
	if templateID == "" && content == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "document generate: neither template nor content supplied")
	}

	var resp GeneratedFile
	err := httpJSON(ctx, g.client, http.MethodPost, g.baseURL+"/v1/generate",
		map[string]string{"Authorization": "Bearer " + g.apiKey},
		map[string]any{
			"template_id": templateID,
			"mapping":     mapping,
			"content":     content,
		}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ DocumentGenerator = (*HTTPDocumentGenerator)(nil)
