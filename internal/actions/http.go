package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/pkg/schema"
)

// HTTPConfig configures the HTTP_CALL executor.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPCallExecutor implements the HTTP_CALL action: an outbound HTTP request
// with method, headers, JSON/form/text body, and bearer/basic/api-key auth.
// An optional jq selector plucks the interesting part of the response before
// it is logged as the step's output.
type HTTPCallExecutor struct {
	config   HTTPConfig
	selector *expressions.GoJQEngine
}

// NewHTTPCallExecutor creates the HTTP_CALL executor. selector may be nil.
func NewHTTPCallExecutor(cfg HTTPConfig, selector *expressions.GoJQEngine) *HTTPCallExecutor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPCallExecutor{config: cfg, selector: selector}
}

func (e *HTTPCallExecutor) Name() schema.ActionType { return schema.ActionHTTPCall }

func (e *HTTPCallExecutor) Validate(config map[string]any) error {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "HTTP_CALL: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "HTTP_CALL: invalid url %q", rawURL)
	}
	return nil
}

func (e *HTTPCallExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	config := input.Config
	if config == nil {
		config = map[string]any{}
	}
	if err := e.Validate(config); err != nil {
		return failure("%s", err.Error()), nil
	}
	if res := guardResolved(schema.ActionHTTPCall, config); res != nil {
		return res, nil
	}

	method := strings.ToUpper(stringParam(config, "method", "GET"))
	rawURL := stringParam(config, "url", "")
	bodyEncoding := stringParam(config, "bodyEncoding", "json")
	failOnErrorStatus := boolParam(config, "failOnErrorStatus", true)

	timeout := e.config.DefaultTimeout
	if ts := stringParam(config, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := config["body"]; ok && rawBody != nil {
		switch bodyEncoding {
		case "form":
			if formData, ok := rawBody.(map[string]any); ok {
				vals := url.Values{}
				for k, v := range formData {
					vals.Set(k, fmt.Sprintf("%v", v))
				}
				bodyReader = strings.NewReader(vals.Encode())
				contentType = "application/x-www-form-urlencoded"
			}
		case "text":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
			contentType = "text/plain"
		default: // json
			b, err := json.Marshal(rawBody)
			if err != nil {
				return failure("HTTP_CALL: failed to marshal body as JSON: %s", err.Error()), nil
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return failure("HTTP_CALL: failed to create request: %s", err.Error()), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range mapParam(config, "headers") {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}
	applyAuth(req, mapParam(config, "auth"))

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return failure("HTTP_CALL: request failed: %s", err.Error()), nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBody))
	if err != nil {
		return failure("HTTP_CALL: failed to read response body: %s", err.Error()), nil
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(respContentType, "application/json") {
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	output := map[string]any{
		"statusCode": resp.StatusCode,
		"body":       parsedBody,
		"durationMs": durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return failure("HTTP_CALL: %s returned %d", rawURL, resp.StatusCode), nil
	}

	if sel := stringParam(config, "selector", ""); sel != "" && e.selector != nil {
		selected, err := e.selector.Evaluate(ctx, sel, output)
		if err != nil {
			return failure("HTTP_CALL: selector failed: %s", err.Error()), nil
		}
		if m, ok := selected.(map[string]any); ok {
			output = m
		} else {
			output = map[string]any{"value": selected}
		}
	}

	return success(output), nil
}

func applyAuth(req *http.Request, auth map[string]any) {
	if auth == nil {
		return
	}
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "api_key":
		if name := stringParam(auth, "headerName", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "headerValue", ""))
		}
	}
}

var _ Executor = (*HTTPCallExecutor)(nil)
