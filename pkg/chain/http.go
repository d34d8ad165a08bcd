package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codebazaar/paygate/pkg/constants"
)

// httpJSON is the shared helper for fullnode requests: marshal the body,
// issue the request, cap the response size, and decode into result. Non-2xx
// responses come back as *HTTPError so callers can inspect the fullnode's
// error_code field.
func httpJSON(ctx context.Context, client *http.Client, method, url string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limited)
		return newHTTPError(resp.StatusCode, resp.Status, bodyBytes)
	}

	if result != nil {
		if err := json.NewDecoder(limited).Decode(result); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}

// HTTPError is a non-2xx fullnode response. The Aptos REST API reports
// machine-readable error codes in the body; ErrorCode surfaces them.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
	ErrorCode  string
}

func newHTTPError(statusCode int, status string, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: statusCode, Status: status, Body: body}
	var parsed struct {
		Message   string `json:"message"`
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.ErrorCode = parsed.ErrorCode
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("fullnode HTTP %d: %s", e.StatusCode, e.ErrorCode)
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("fullnode HTTP %d: %s - %s", e.StatusCode, e.Status, string(e.Body))
	}
	return fmt.Sprintf("fullnode HTTP %d: %s", e.StatusCode, e.Status)
}

// IsNotFound reports whether the fullnode said the resource does not exist.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
