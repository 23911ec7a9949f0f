// Package builtin ships the adapters available out of the box: http, shell,
// and fs. Each is a thin, cancellation-aware wrapper over its backing
// library that reports structured results.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowmatic/flowmatic/engine/adapter"
	"github.com/flowmatic/flowmatic/engine/core"
)

// HTTPAdapter executes http.request.* actions through a shared resty client.
type HTTPAdapter struct {
	adapter.Matcher
	client *resty.Client
}

func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{
		Matcher: adapter.NewMatcher("http.request", "http.request.*"),
	}
}

func (a *HTTPAdapter) Name() string    { return "http" }
func (a *HTTPAdapter) Version() string { return "1.0.0" }

func (a *HTTPAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: true, Cost: adapter.CostExternal, Resources: []string{"network"}}
}

func (a *HTTPAdapter) Initialize(_ context.Context) error {
	a.client = resty.New().SetRetryCount(0)
	return nil
}

func (a *HTTPAdapter) Cleanup(_ context.Context) error {
	a.client = nil
	return nil
}

func (a *HTTPAdapter) Validate(_ string, input core.Input) []string {
	var problems []string
	if url, _ := input.Prop("url").(string); url == "" {
		problems = append(problems, "missing required input 'url'")
	}
	return problems
}

func (a *HTTPAdapter) Execute(
	ctx context.Context,
	action string,
	input core.Input,
	ectx *adapter.Context,
) (*adapter.Result, error) {
	if a.client == nil {
		a.client = resty.New()
	}
	method := methodFromAction(action, input)
	url, _ := input.Prop("url").(string)
	started := time.Now()

	req := a.client.R().SetContext(ctx)
	if headers, ok := input.Prop("headers").(map[string]any); ok {
		for k, v := range headers {
			req.SetHeader(k, fmt.Sprintf("%v", v))
		}
	}
	if query, ok := input.Prop("query").(map[string]any); ok {
		for k, v := range query {
			req.SetQueryParam(k, fmt.Sprintf("%v", v))
		}
	}
	if body := input.Prop("body"); body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, url)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		result := adapter.Fail(fmt.Sprintf("request failed: %s", err), "http.request_failed")
		result.Metrics.DurationMs = elapsed
		return result, nil
	}

	result := adapter.Ok(core.Output{
		"status":  resp.StatusCode(),
		"headers": flattenHeaders(resp),
		"body":    string(resp.Body()),
	})
	result.Metrics = adapter.Metrics{DurationMs: elapsed}
	if resp.IsError() {
		result.Success = false
		result.Error = &adapter.ResultError{
			Message: fmt.Sprintf("server returned %s", resp.Status()),
			Code:    "http.error_status",
			Details: map[string]any{"status": resp.StatusCode()},
		}
	}
	return result, nil
}

func methodFromAction(action string, input core.Input) string {
	parts := strings.Split(action, ".")
	if len(parts) >= 3 {
		return strings.ToUpper(parts[2])
	}
	if m, _ := input.Prop("method").(string); m != "" {
		return strings.ToUpper(m)
	}
	return "GET"
}

func flattenHeaders(resp *resty.Response) map[string]any {
	headers := make(map[string]any)
	for k, v := range resp.Header() {
		headers[k] = strings.Join(v, ", ")
	}
	return headers
}
