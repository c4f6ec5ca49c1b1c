package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reactorhq/reactor/internal/engine"
)

// HTTPAction is the "http.request" action: an outbound HTTP call whose
// inputs have already passed through the engine's interpolator, so values
// like "status_code" come back as the same JSON-shaped types (float64,
// map[string]interface{}, []interface{}) the rest of the step graph expects.
type HTTPAction struct {
	logger *zap.Logger
	client *http.Client
}

func NewHTTPAction(logger *zap.Logger) *HTTPAction {
	return &HTTPAction{
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTPAction) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	url, ok := input["url"].(string)
	if !ok || url == "" {
		return nil, &engine.Failure{Kind: engine.KindUserError, Message: "url parameter is required"}
	}

	method := "GET"
	if m, ok := input["method"].(string); ok {
		method = m
	}

	var body io.Reader
	if bodyData, ok := input["body"]; ok {
		bodyBytes, err := json.Marshal(bodyData)
		if err != nil {
			return nil, &engine.Failure{Kind: engine.KindUserError, Message: fmt.Sprintf("marshal request body: %v", err)}
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &engine.Failure{Kind: engine.KindUserError, Message: fmt.Sprintf("build request: %v", err)}
	}

	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprintf("%v", value))
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	h.logger.Info("executing http request", zap.String("method", method), zap.String("url", url))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &engine.Failure{Kind: engine.KindTransportError, Message: fmt.Sprintf("%v", err)}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engine.Failure{Kind: engine.KindTransportError, Message: fmt.Sprintf("read response body: %v", err)}
	}

	var responseData interface{}
	if len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, &responseData); err != nil {
			responseData = string(responseBody)
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := map[string]interface{}{
		"status_code": float64(resp.StatusCode),
		"headers":     headers,
		"body":        responseData,
		"success":     success,
	}

	h.logger.Info("http request completed", zap.String("url", url), zap.Int("status_code", resp.StatusCode))

	if !success {
		kind := engine.KindUserError
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = engine.KindRateLimited
		}
		return result, &engine.Failure{Kind: kind, Message: fmt.Sprintf("request returned status %d", resp.StatusCode)}
	}

	return result, nil
}
