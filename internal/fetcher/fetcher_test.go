package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/urlmeta/internal/domain"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(2*time.Second, 2*time.Second, "urlmeta-test/1.0", zerolog.Nop())
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "urlmeta-test/1.0", r.Header.Get("User-Agent"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	defer f.Close()

	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<html>hello</html>", res.PageSource)
	assert.Equal(t, srv.URL, res.FinalURL)
	assert.Equal(t, "yes", res.Headers["X-Custom"])
	assert.Equal(t, "abc123", res.Cookies["session"])
}

func TestFetchFollowsRedirects(t *testing.T) {
	var finalURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("landed"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	finalURL = srv.URL + "/end"

	f := newTestFetcher(t)
	defer f.Close()

	res, err := f.Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)

	assert.Equal(t, finalURL, res.FinalURL)
	assert.Equal(t, "landed", res.PageSource)
}

func TestFetchHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *domain.FetchError
	assert.ErrorAs(t, err, &fe)
	assert.True(t, domain.RetryableFetch(err))
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listens here anymore

	f := newTestFetcher(t)
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *domain.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := New(100*time.Millisecond, 100*time.Millisecond, "", zerolog.Nop())
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var te *domain.FetchTimeoutError
	assert.ErrorAs(t, err, &te)
	assert.True(t, domain.RetryableFetch(err))
}

func TestFetchInvalidURL(t *testing.T) {
	f := newTestFetcher(t)
	defer f.Close()

	_, err := f.Fetch(context.Background(), "http://[::1]:namedport")
	require.Error(t, err)

	var fe *domain.FetchError
	assert.ErrorAs(t, err, &fe)
}
