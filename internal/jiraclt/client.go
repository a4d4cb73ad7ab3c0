// Package jiraclt provides a client for the Jira REST API v2.
package jiraclt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/relsync/internal/goorderr"
	"github.com/simplesurance/relsync/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "jira_client"

const searchPageSize = 50

const maxErrBodyBytes = 4 * 1024

// ErrUnauthorized is wrapped by errors that were caused by a failed
// authentication against Jira.
var ErrUnauthorized = errors.New("jira authentication failed")

// User is the authenticated Jira user, as returned by the myself endpoint.
type User struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}

// Issue references a Jira issue by key.
// Fields contains the issue fields that were requested in the search.
type Issue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

type searchResponse struct {
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Total      int      `json:"total"`
	Issues     []*Issue `json:"issues"`
}

// Client is a Jira REST API client.
// Methods return a goorderr.RetryableError when an operation can be
// retried.
type Client struct {
	baseURL    string
	user       string
	passwd     string
	httpClient *http.Client
	logger     *zap.Logger
}

type option func(*Client)

// WithBasicAuth authenticates requests with the user and password.
func WithBasicAuth(user, passwd string) option {
	return func(clt *Client) {
		clt.user = user
		clt.passwd = passwd
	}
}

// WithBearerToken authenticates requests with a personal access token.
// It replaces the http client with an oauth2 client that sets the
// Authorization header.
func WithBearerToken(token string) option {
	return func(clt *Client) {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)

		tc := oauth2.NewClient(context.Background(), ts)
		tc.Timeout = DefaultHTTPClientTimeout

		clt.httpClient = tc
	}
}

// New returns a client for the Jira server at url.
// A trailing slash is appended to url if it is missing.
func New(jiraURL string, opts ...option) *Client {
	if jiraURL != "" && jiraURL[len(jiraURL)-1] != '/' {
		jiraURL += "/"
	}

	clt := Client{
		baseURL: jiraURL,
		httpClient: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
		logger: zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&clt)
	}

	return &clt
}

// Me fetches the authenticated user via the myself endpoint.
// It serves as authentication probe, a 401 or 403 response is returned as
// an error wrapping ErrUnauthorized.
func (clt *Client) Me(ctx context.Context) (*User, error) {
	var user User

	err := clt.do(ctx, http.MethodGet, "rest/api/2/myself", nil, &user)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// SearchIssues returns all issues matching the JQL query.
// fields restricts which issue fields are returned, an empty slice returns
// only the issue keys.
// The search is paginated, all pages are fetched before returning.
func (clt *Client) SearchIssues(ctx context.Context, jql string, fields ...string) ([]*Issue, error) {
	var result []*Issue

	clt.logger.Debug(
		"searching jira issues",
		logfields.Event("jira_searching_issues"),
		logfields.JQL(jql),
	)

	startAt := 0

	for {
		query := url.Values{}
		query.Set("jql", jql)
		query.Set("startAt", strconv.Itoa(startAt))
		query.Set("maxResults", strconv.Itoa(searchPageSize))

		if len(fields) == 0 {
			query.Set("fields", "key")
		} else {
			for _, f := range fields {
				query.Add("fields", f)
			}
		}

		var page searchResponse

		err := clt.do(ctx, http.MethodGet, "rest/api/2/search?"+query.Encode(), nil, &page)
		if err != nil {
			return nil, err
		}

		result = append(result, page.Issues...)

		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			return result, nil
		}
	}
}

// UpdateIssueField sets the custom field with the numeric fieldID to value
// on the issue.
func (clt *Client) UpdateIssueField(ctx context.Context, issueKey string, fieldID int, value string) error {
	body := map[string]any{
		"fields": map[string]any{
			fmt.Sprintf("customfield_%d", fieldID): map[string]string{
				"value": value,
			},
		},
	}

	return clt.do(ctx, http.MethodPut, "rest/api/2/issue/"+url.PathEscape(issueKey), body, nil)
}

func (clt *Client) do(ctx context.Context, method, path string, reqBody, result any) error {
	reqURL := clt.baseURL + path

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}

		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return err
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if clt.user != "" {
		req.SetBasicAuth(clt.user, clt.passwd)
	}

	resp, err := clt.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return clt.wrapRetryableErrors(resp, &HTTPError{
			URL:    reqURL,
			Status: resp.StatusCode,
			Body:   truncate(respBody, maxErrBodyBytes),
		})
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding jira response from %s failed: %w", reqURL, err)
	}

	return nil
}

func (clt *Client) wrapRetryableErrors(resp *http.Response, httpErr *HTTPError) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, httpErr)

	case resp.StatusCode == http.StatusTooManyRequests:
		if after, ok := retryAfter(resp); ok {
			return goorderr.NewRetryableError(httpErr, after)
		}

		return goorderr.NewRetryableAnytimeError(httpErr)

	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		return goorderr.NewRetryableAnytimeError(httpErr)
	}

	return httpErr
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

// HTTPError describes a non-2xx response from Jira.
type HTTPError struct {
	URL    string
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jira request to %s failed with status %d: %s", e.URL, e.Status, e.Body)
}
