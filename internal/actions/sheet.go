package actions

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/rloza/tramite/internal/capability"
	"github.com/rloza/tramite/pkg/schema"
)

// Spreadsheet operations. Only LOOKUP is implemented; the rest must be
// rejected explicitly, never silently succeed.
const (
	SheetOpLookup    = "LOOKUP"
	SheetOpAppendRow = "APPEND_ROW"
	SheetOpUpdateRow = "UPDATE_ROW"
)

// GoogleSheetExecutor implements the GOOGLE_SHEET action. LOOKUP reads the
// full sheet, treats the first row as headers, matches the target column
// case-insensitively, and returns the first matching row as a field map with
// snake_case keys. An expired access token is refreshed once and the read
// retried before the step fails.
type GoogleSheetExecutor struct {
	sheets capability.Sheets
}

// NewGoogleSheetExecutor creates the GOOGLE_SHEET executor.
func NewGoogleSheetExecutor(sheets capability.Sheets) *GoogleSheetExecutor {
	return &GoogleSheetExecutor{sheets: sheets}
}

func (e *GoogleSheetExecutor) Name() schema.ActionType { return schema.ActionGoogleSheet }

func (e *GoogleSheetExecutor) Validate(config map[string]any) error {
	if stringParam(config, "spreadsheetId", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "GOOGLE_SHEET: missing required param 'spreadsheetId'")
	}
	if stringParam(config, "sheetName", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "GOOGLE_SHEET: missing required param 'sheetName'")
	}
	return nil
}

func (e *GoogleSheetExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	operation := strings.ToUpper(stringParam(input.Config, "operation", SheetOpLookup))

	switch operation {
	case SheetOpLookup:
		return e.lookup(ctx, input)
	case SheetOpAppendRow, SheetOpUpdateRow:
		return failure("GOOGLE_SHEET: operation %q is not implemented", operation), nil
	default:
		return failure("GOOGLE_SHEET: unknown operation %q", operation), nil
	}
}

func (e *GoogleSheetExecutor) lookup(ctx context.Context, input Input) (*Result, error) {
	spreadsheetID := stringParam(input.Config, "spreadsheetId", "")
	sheetName := stringParam(input.Config, "sheetName", "")
	lookupColumn := stringParam(input.Config, "lookupColumn", "")
	lookupValue := stringParam(input.Config, "lookupValue", "")

	switch {
	case spreadsheetID == "":
		return failure("GOOGLE_SHEET: missing required param 'spreadsheetId'"), nil
	case sheetName == "":
		return failure("GOOGLE_SHEET: missing required param 'sheetName'"), nil
	case lookupColumn == "":
		return failure("GOOGLE_SHEET: missing required param 'lookupColumn'"), nil
	}
	if res := guardResolved(schema.ActionGoogleSheet, input.Config); res != nil {
		return res, nil
	}

	rows, err := e.readWithRefresh(ctx, input.Org, spreadsheetID, sheetName)
	if err != nil {
		return failure("GOOGLE_SHEET: reading sheet %q failed: %s", sheetName, err.Error()), nil
	}
	if len(rows) == 0 {
		return failure("GOOGLE_SHEET: sheet %q is empty", sheetName), nil
	}

	headers := rows[0]
	colIdx := -1
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(lookupColumn)) {
			colIdx = i
			break
		}
	}
	if colIdx == -1 {
		return failure("GOOGLE_SHEET: column %q not found in sheet %q", lookupColumn, sheetName), nil
	}

	for _, row := range rows[1:] {
		if colIdx >= len(row) || !strings.EqualFold(strings.TrimSpace(row[colIdx]), strings.TrimSpace(lookupValue)) {
			continue
		}
		out := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(row) {
				out[snakeCase(h)] = row[i]
			}
		}
		return success(out), nil
	}

	return failure("GOOGLE_SHEET: no row found where %q = %q", lookupColumn, lookupValue), nil
}

// readWithRefresh reads the sheet, refreshing an expired access token once
// and retrying before giving up.
func (e *GoogleSheetExecutor) readWithRefresh(ctx context.Context, org *OrgContext, spreadsheetID, sheetName string) ([][]string, error) {
	token := org.Token("google_access_token")

	rows, err := e.sheets.ReadSheet(ctx, token, spreadsheetID, sheetName)
	if !errors.Is(err, capability.ErrTokenExpired) {
		return rows, err
	}

	refresh := org.Token("google_refresh_token")
	if refresh == "" {
		return nil, schema.NewError(schema.ErrCodeCapability,
			"access token expired and no refresh token is configured")
	}
	fresh, err := e.sheets.RefreshToken(ctx, refresh)
	if err != nil {
		return nil, err
	}
	org.IntegrationTokens["google_access_token"] = fresh

	return e.sheets.ReadSheet(ctx, fresh, spreadsheetID, sheetName)
}

// snakeCase normalizes a header cell into a snake_case output key.
func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := true
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

var _ Executor = (*GoogleSheetExecutor)(nil)
