package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// provider adapts one vendor's wire format.
type provider interface {
	Name() string
	BuildURL(baseURL string) string
	SetHeaders(req *http.Request, apiKey string)
	BuildRequestBody(cfg Config, req Request) ([]byte, error)
	ParseResponse(body []byte) (*Response, error)
}

// maxErrorBody caps how much of a failed response is kept in HTTPError.
const maxErrorBody = 2048

type httpClient struct {
	provider provider
	cfg      Config
	url      string
	http     *http.Client
}

// Complete sends one request. There are no retries.
func (c *httpClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := c.provider.BuildRequestBody(c.cfg, req)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.provider.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", c.provider.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.provider.SetHeaders(httpReq, c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.provider.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.provider.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &HTTPError{Provider: c.provider.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out, err := c.provider.ParseResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.provider.Name(), err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, fmt.Errorf("%s: %w", c.provider.Name(), ErrEmptyResponse)
	}
	return out, nil
}
