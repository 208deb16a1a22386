package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/admesh/salesagent/internal/errs"
)

// platformClient is the shared HTTP plumbing for the real ad-server adapters.
// It classifies failures into the error taxonomy: connection errors, 5xx, and
// 429 become adapter_unavailable (retryable); other non-2xx become internal,
// since the caller's request already validated locally.
type platformClient struct {
	http    *http.Client
	headers map[string]string
}

func newPlatformClient(headers map[string]string) *platformClient {
	return &platformClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: headers,
	}
}

func (c *platformClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "encoding %s %s request", method, url)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "building %s %s request", method, url)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindAdapterUnavailable, err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(errs.KindAdapterUnavailable, "%s %s returned %d", method, url, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.New(errs.KindInternal, "%s %s returned %d: %s", method, url, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindAdapterUnavailable, err, "decoding %s %s response", method, url)
	}
	return nil
}

func joinURL(base, path string, args ...any) string {
	return base + fmt.Sprintf(path, args...)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
