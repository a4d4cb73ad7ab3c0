// Package jenkinsclt provides a client for the Jenkins JSON API.
package jenkinsclt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/relsync/internal/goorderr"
	"github.com/simplesurance/relsync/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "jenkins_client"

// maxErrBodyBytes limits how much of an error response body is kept for
// error messages.
const maxErrBodyBytes = 4 * 1024

// BuildResult values as reported by Jenkins.
const (
	ResultSuccess  = "SUCCESS"
	ResultFailure  = "FAILURE"
	ResultUnstable = "UNSTABLE"
	ResultAborted  = "ABORTED"
	ResultNotBuilt = "NOT_BUILT"
)

// Build describes a single Jenkins build.
// Raw contains the unparsed JSON document that the descriptor was decoded
// from.
type Build struct {
	DisplayName string `json:"displayName"`
	Result      string `json:"result"`
	Number      int    `json:"number"`
	URL         string `json:"url"`
	Building    bool   `json:"building"`

	Raw []byte `json:"-"`
}

// Client is a Jenkins JSON API client.
// Methods return a goorderr.RetryableError when an operation can be
// retried, e.g. when Jenkins responded with a 5xx status code.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New returns a client for the Jenkins build or job at url.
// A trailing slash is appended to url if it is missing.
func New(url string) *Client {
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}

	return &Client{
		baseURL: url,
		httpClient: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
		logger: zap.L().Named(loggerName),
	}
}

// LatestBuild fetches the build descriptor from {baseURL}api/json.
// A non-2xx response or a transport error is returned as error, 5xx and 429
// responses wrapped as goorderr.RetryableError.
func (clt *Client) LatestBuild(ctx context.Context) (*Build, error) {
	url := clt.baseURL + "api/json"

	clt.logger.Debug(
		"fetching jenkins build descriptor",
		logfields.Event("jenkins_fetching_build"),
		logfields.URL(url),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := clt.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, clt.wrapRetryableErrors(resp, &HTTPError{
			URL:    url,
			Status: resp.StatusCode,
			Body:   truncate(body, maxErrBodyBytes),
		})
	}

	var build Build
	if err := json.Unmarshal(body, &build); err != nil {
		return nil, fmt.Errorf("decoding jenkins response from %s failed: %w", url, err)
	}

	build.Raw = body

	return &build, nil
}

func (clt *Client) wrapRetryableErrors(resp *http.Response, err *HTTPError) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		if after, ok := retryAfter(resp); ok {
			return goorderr.NewRetryableError(err, after)
		}

		return goorderr.NewRetryableAnytimeError(err)
	}

	if resp.StatusCode >= 500 && resp.StatusCode < 600 {
		return goorderr.NewRetryableAnytimeError(err)
	}

	return err
}

func retryAfter(resp *http.Response) (time.Time, bool) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return time.Time{}, false
	}

	return time.Now().Add(time.Duration(secs) * time.Second), true
}

func truncate(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}

	return b[:max]
}

// HTTPError describes a non-2xx response from Jenkins.
type HTTPError struct {
	URL    string
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jenkins request to %s failed with status %d: %s", e.URL, e.Status, e.Body)
}
