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

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// HTTPConfig tunes the http_request action. Zero values pick the defaults.
type HTTPConfig struct {
	Timeout       time.Duration
	ResponseLimit int64
	// Client replaces the outbound client, mainly for tests.
	Client *http.Client
}

const (
	httpTimeout       = 30 * time.Second
	httpResponseLimit = 10 << 20
	httpMaxRedirects  = 10
)

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

// HTTPRequestAction implements "http_request". A status of 400 or more fails
// the step unless failOnErrorStatus is false, so node retry policies cover
// flaky upstreams.
type HTTPRequestAction struct {
	timeout time.Duration
	limit   int64
	client  *http.Client
}

func NewHTTPRequestAction(cfg HTTPConfig) *HTTPRequestAction {
	a := &HTTPRequestAction{timeout: cfg.Timeout, limit: cfg.ResponseLimit, client: cfg.Client}
	if a.timeout <= 0 {
		a.timeout = httpTimeout
	}
	if a.limit <= 0 {
		a.limit = httpResponseLimit
	}
	if a.client == nil {
		a.client = &http.Client{CheckRedirect: limitRedirects}
	}
	return a
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= httpMaxRedirects {
		return fmt.Errorf("stopped after %d redirects", httpMaxRedirects)
	}
	return nil
}

func (a *HTTPRequestAction) Name() string { return "http_request" }

func (a *HTTPRequestAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Call an HTTP endpoint and expose the response to later steps.",
		Required:    []string{"url"},
		Optional:    []string{"method", "headers", "body", "bodyEncoding", "auth", "failOnErrorStatus"},
	}
}

func (a *HTTPRequestAction) Validate(params map[string]any) error {
	target := stringParam(params, "url", "")
	if target == "" {
		return schema.NewError(schema.ErrCodeValidation, "http_request: url is required")
	}
	if u, err := url.ParseRequestURI(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "http_request: invalid url %q", target)
	}
	if m := methodOf(params); !httpMethods[m] {
		return schema.NewErrorf(schema.ErrCodeValidation, "http_request: unsupported method %q", m)
	}
	return nil
}

func methodOf(params map[string]any) string {
	return strings.ToUpper(stringParam(params, "method", http.MethodGet))
}

func (a *HTTPRequestAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params
	if err := a.Validate(params); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := buildRequest(callCtx, params)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "http_request: %v", ctx.Err()).WithCause(err)
		}
		return nil, stepFailed(a.Name(), "request failed: %v", err).WithCause(unavailable(err))
	}
	defer resp.Body.Close()

	result, err := a.decodeResponse(resp)
	if err != nil {
		return nil, err
	}
	result["durationMs"] = time.Since(began).Milliseconds()

	if resp.StatusCode >= 400 && boolParam(params, "failOnErrorStatus", true) {
		fail := stepFailed(a.Name(), "server returned %d", resp.StatusCode).WithDetails(result)
		if resp.StatusCode >= 500 {
			fail = fail.WithCause(ErrUnavailable)
		}
		return nil, fail
	}
	return output(result), nil
}

// buildRequest assembles the outbound request. Explicit headers are applied
// after the body's content type so a workflow can override it.
func buildRequest(ctx context.Context, params map[string]any) (*http.Request, error) {
	body, contentType, err := encodeBody(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, methodOf(params), stringParam(params, "url", ""), body)
	if err != nil {
		return nil, stepFailed("http_request", "create request: %v", err).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range mapParam(params, "headers") {
		req.Header.Set(name, fmt.Sprint(value))
	}
	applyAuth(req, mapParam(params, "auth"))
	return req, nil
}

// decodeResponse reads at most the configured limit. JSON bodies are parsed
// when they are valid; anything else stays a string.
func (a *HTTPRequestAction) decodeResponse(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.limit))
	if err != nil {
		return nil, stepFailed(a.Name(), "read response body: %v", err).WithCause(err)
	}

	ct := resp.Header.Get("Content-Type")
	var body any
	switch {
	case len(raw) == 0:
	case strings.Contains(ct, "json") && json.Valid(raw):
		_ = json.Unmarshal(raw, &body)
	default:
		body = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for name, values := range resp.Header {
		headers[name] = values[0]
	}
	return map[string]any{
		"statusCode":  resp.StatusCode,
		"status":      resp.Status,
		"contentType": ct,
		"headers":     headers,
		"body":        body,
	}, nil
}

func encodeBody(params map[string]any) (io.Reader, string, error) {
	payload := params["body"]
	if payload == nil || payload == "" {
		return nil, "", nil
	}
	switch stringParam(params, "bodyEncoding", "json") {
	case "text":
		return strings.NewReader(fmt.Sprint(payload)), "text/plain", nil
	case "form":
		fields, ok := payload.(map[string]any)
		if !ok {
			return nil, "", schema.NewError(schema.ErrCodeValidation, "http_request: form body must be an object")
		}
		form := make(url.Values, len(fields))
		for k, v := range fields {
			form.Set(k, fmt.Sprint(v))
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, "", schema.NewError(schema.ErrCodeValidation, "http_request: body is not JSON-encodable").WithCause(err)
		}
		return strings.NewReader(string(encoded)), "application/json", nil
	}
}

func applyAuth(req *http.Request, auth map[string]any) {
	kind := stringParam(auth, "type", "")
	switch {
	case kind == "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case kind == "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case kind == "api_key" && stringParam(auth, "headerName", "") != "":
		req.Header.Set(stringParam(auth, "headerName", ""), stringParam(auth, "headerValue", ""))
	}
}
