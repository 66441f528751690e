package system

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/pathutil"
	"go.uber.org/zap"
)

// maxResponseBytes caps how much of a response body is kept.
const maxResponseBytes = 10 << 20

// HTTPRequest is the "HTTP Request" action.
type HTTPRequest struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPRequest creates the action over client.
func NewHTTPRequest(client *http.Client, logger *zap.Logger) *HTTPRequest {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRequest{client: client, logger: logger}
}

// Action returns the registrable action.
func (h *HTTPRequest) Action() actions.Action {
	return actions.Action{
		ID:          actions.HTTPRequest,
		Label:       actions.HTTPRequest,
		Category:    "System",
		Description: "Call an HTTP endpoint and return its status, headers and body",
		Step:        h.step,
	}
}

func (h *HTTPRequest) step(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
	var errs []actions.FieldError

	endpoint := strings.TrimSpace(in.String("endpoint"))
	if endpoint == "" {
		errs = append(errs, actions.FieldError{Field: "endpoint", Message: "Endpoint is required"})
	} else if u, err := url.Parse(endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, actions.FieldError{Field: "endpoint", Message: "Endpoint must be an absolute http(s) URL"})
	}

	method := strings.ToUpper(in.StringWithDefault("httpMethod", http.MethodGet))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
	default:
		errs = append(errs, actions.FieldError{Field: "httpMethod", Message: fmt.Sprintf("Unsupported method %q", method)})
	}

	headers, err := jsonObject(in.Config["httpHeaders"])
	if err != nil {
		errs = append(errs, actions.FieldError{Field: "httpHeaders", Message: "Headers must be a JSON object"})
	}

	body, contentType, err := requestBody(in.Config["httpBody"])
	if err != nil {
		errs = append(errs, actions.FieldError{Field: "httpBody", Message: err.Error()})
	}
	if len(errs) > 0 {
		return actions.ValidationFailure(errs...), nil
	}
	if method == http.MethodGet || method == http.MethodHead {
		body = nil
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return actions.Failure(fmt.Sprintf("HTTP request failed: %v", err), nil), nil
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, k := range sortedKeys(headers) {
		req.Header.Set(k, fmt.Sprint(headers[k]))
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return actions.Failure(fmt.Sprintf("HTTP request failed: %v", err), nil), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return actions.Failure(fmt.Sprintf("HTTP request failed: reading response: %v", err), nil), nil
	}

	h.logger.Debug("HTTP request completed",
		zap.String("node_id", in.Context.NodeID),
		zap.String("method", method),
		zap.String("host", req.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	fields := map[string]any{
		"status":  resp.StatusCode,
		"ok":      resp.StatusCode >= 200 && resp.StatusCode < 300,
		"headers": responseHeaders(resp.Header),
		"data":    responseData(raw, strings.TrimSpace(in.String("responsePath"))),
	}
	if !fields["ok"].(bool) {
		return actions.Failure(fmt.Sprintf("HTTP request failed with status %d", resp.StatusCode), fields), nil
	}
	return actions.Success(fields), nil
}

// requestBody accepts a string sent verbatim, or a decoded value that is
// sent as JSON. Strings that parse as JSON get a JSON content type.
func requestBody(v any) ([]byte, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		if strings.TrimSpace(b) == "" {
			return nil, "", nil
		}
		if json.Valid([]byte(b)) {
			return []byte(b), "application/json", nil
		}
		return []byte(b), "text/plain; charset=utf-8", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("Body cannot be encoded as JSON")
		}
		return data, "application/json", nil
	}
}

func responseHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// responseData decodes JSON bodies and returns anything else as text. A
// non-empty path selects part of a JSON body in gjson syntax; a path that
// matches nothing yields nil.
func responseData(raw []byte, path string) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return string(raw)
	}
	v, _ := pathutil.NavigateJSON(raw, path)
	return v
}

func decodeJSON(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
