package httpclient

import (
	"fmt"
	"net/http"
	"time"

	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/logging"
)

// DefaultTimeout bounds a single mirror request.
const DefaultTimeout = 60 * time.Second

// New builds an HTTP client that logs every request at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingRoundTripper{base: http.DefaultTransport, logger: logging.OrNop(logger)},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("%s %s failed after %v: %v", req.Method, req.URL, time.Since(start), err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d (%v)", req.Method, req.URL, resp.StatusCode, time.Since(start))
	return resp, nil
}

// CheckStatus turns a non-2xx response into an *errors.HTTPStatusError.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &errs.HTTPStatusError{Method: resp.Request.Method, URL: resp.Request.URL.String(), StatusCode: resp.StatusCode}
}
