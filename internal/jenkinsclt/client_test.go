package jenkinsclt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/relsync/internal/goorderr"
)

const buildJSON = `{
	"displayName": "Release-2.3",
	"result": "SUCCESS",
	"number": 42,
	"url": "https://jenkins.example.com/job/release/42/",
	"building": false
}`

func TestLatestBuild(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/json", r.URL.Path)
		_, _ = w.Write([]byte(buildJSON))
	}))
	t.Cleanup(srv.Close)

	for _, url := range []string{srv.URL, srv.URL + "/"} {
		build, err := New(url).LatestBuild(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "Release-2.3", build.DisplayName)
		assert.Equal(t, ResultSuccess, build.Result)
		assert.Equal(t, 42, build.Number)
		assert.False(t, build.Building)
		assert.JSONEq(t, buildJSON, string(build.Raw))
	}
}

func TestLatestBuildServerError(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).LatestBuild(context.Background())
	require.Error(t, err)

	var retryableErr *goorderr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestLatestBuildNotFound(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).LatestBuild(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)

	var retryableErr *goorderr.RetryableError
	assert.False(t, errors.As(err, &retryableErr))
}

func TestLatestBuildTooManyRequests(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	before := time.Now()

	_, err := New(srv.URL).LatestBuild(context.Background())
	require.Error(t, err)

	var retryableErr *goorderr.RetryableError
	require.ErrorAs(t, err, &retryableErr)
	assert.WithinDuration(t, before.Add(30*time.Second), retryableErr.After, 5*time.Second)
}

func TestLatestBuildMalformedResponse(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).LatestBuild(context.Background())
	require.Error(t, err)
}

func TestLatestBuildUnreachableServer(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := New(srv.URL).LatestBuild(context.Background())
	require.Error(t, err)
}
