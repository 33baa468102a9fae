package capability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rloza/tramite/pkg/schema"
)

// GoogleSheets reads spreadsheet values via the Sheets REST API using the
// organization's OAuth grant.
type GoogleSheets struct {
	apiBase      string
	tokenBase    string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewGoogleSheets creates a Sheets client. apiBase and tokenBase default to
// the public Google endpoints when empty (overridable for tests).
func NewGoogleSheets(clientID, clientSecret, apiBase, tokenBase string) *GoogleSheets {
	if apiBase == "" {
		apiBase = "https://sheets.googleapis.com"
	}
	if tokenBase == "" {
		tokenBase = "https://oauth2.googleapis.com"
	}
	return &GoogleSheets{
		apiBase:      apiBase,
		tokenBase:    tokenBase,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: defaultTimeout},
	}
}

// ReadSheet fetches all values of the named sheet. Returns ErrTokenExpired on
// a 401 so the caller can refresh and retry.
func (s *GoogleSheets) ReadSheet(ctx context.Context, token, spreadsheetID, sheetName string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		s.apiBase, url.PathEscape(spreadsheetID), url.PathEscape(sheetName))

	var resp struct {
		Values [][]any `json:"values"`
	}
	err := httpJSON(ctx, s.client, http.MethodGet, endpoint,
		map[string]string{"Authorization": "Bearer " + token}, nil, &resp)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprintf("%v", cell)
		}
		rows[i] = cells
	}
	return rows, nil
}

// RefreshToken exchanges a refresh token for a fresh access token.
func (s *GoogleSheets) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := httpJSON(ctx, s.client, http.MethodPost, s.tokenBase+"/token", nil,
		map[string]any{
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
			"refresh_token": refreshToken,
			"grant_type":    "refresh_token",
		}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", schema.NewError(schema.ErrCodeCapability, "token refresh returned empty access token")
	}
	return resp.AccessToken, nil
}

var _ Sheets = (*GoogleSheets)(nil)
