// Package httprequest implements the http_request action.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/template"
)

const defaultTimeout = 30 * time.Second

var ErrURLMissing = errors.New("missing or invalid 'url' in configuration")

// Action performs one HTTP request. Retries are owned by the node's retry
// policy, not by the action itself.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration

	client *http.Client
}

func NewAction(config map[string]any) (*Action, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLMissing
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for key, value := range headersMap {
				if strVal, ok := value.(string); ok {
					headers[key] = strVal
				}
			}
		}
	}

	timeout := defaultTimeout
	if timeoutMs, ok := config["timeout_ms"].(float64); ok && timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}

	return &Action{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx *models.RunContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "http_request_action")

	req, err := a.buildRequest(ctx, executionCtx)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryPermanent, "failed to build request", err)
	}

	logger.DebugContext(ctx, "Sending HTTP request", "method", a.Method, "url", req.URL.String())

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, models.NewExecutionError(models.ErrorCategoryCancelled, "request cancelled", err)
		}

		return nil, models.NewExecutionError(models.ErrorCategoryTransient, "http request failed", err)
	}

	result, err := a.processResponse(ctx, resp, logger)
	if err != nil {
		return nil, err
	}

	// 5xx responses are transient so the node retry policy applies; 4xx
	// means the request itself is wrong and retrying cannot help.
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return result, models.NewExecutionError(models.ErrorCategoryTransient,
			fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return result, models.NewExecutionError(models.ErrorCategoryPermanent,
			fmt.Sprintf("client error status %d", resp.StatusCode), nil)
	}

	return result, nil
}

// Target identifies the endpoint for circuit breaker bookkeeping. The raw
// URL template is used so all renders of one endpoint share a breaker.
func (a *Action) Target() string {
	return a.Method + " " + a.URL
}

func (a *Action) buildRequest(ctx context.Context, executionCtx *models.RunContext) (*http.Request, error) {
	urlResult, err := template.RenderWithContext(a.URL, executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	var bodyReader io.Reader = strings.NewReader("")

	if a.Body != "" {
		body, err := template.RenderWithContext(a.Body, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		var bodyBytes []byte
		if str, ok := body.(string); ok {
			bodyBytes = []byte(str)
		} else {
			bodyBytes, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
		}

		bodyReader = strings.NewReader(string(bodyBytes))
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, fmt.Sprintf("%v", urlResult), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		headerResult, err := template.RenderWithContext(value, executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, fmt.Sprintf("%v", headerResult))
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewExecutionError(models.ErrorCategoryTransient, "failed to read response body", err)
	}

	var body any

	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)

		logger.DebugContext(ctx, "Response is not JSON, returning as string")
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
