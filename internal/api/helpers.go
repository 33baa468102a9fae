package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rloza/tramite/pkg/schema"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps structured engine error codes onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var ee *schema.EngineError
	if !errors.As(err, &ee) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch ee.Code {
	case schema.ErrCodeValidation, schema.ErrCodeResolution:
		status = http.StatusBadRequest
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeForbidden:
		status = http.StatusForbidden
	case schema.ErrCodeConflict:
		status = http.StatusConflict
	case schema.ErrCodeNotImplemented:
		status = http.StatusNotImplemented
	}

	body := map[string]any{"error": ee.Message, "code": ee.Code}
	if ee.StepID != "" {
		body["step_id"] = ee.StepID
	}
	if len(ee.Details) > 0 {
		body["details"] = ee.Details
	}
	writeJSON(w, status, body)
}

// decodeBody decodes the request body into v, reporting false after writing
// a 400 response on malformed JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
