// Package fetcher performs the one-shot metadata GET: redirects followed,
// connect and read timeouts applied, headers/cookies/body/final URL captured.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/domain"
)

type Fetcher struct {
	client    *http.Client
	userAgent string
	lg        zerolog.Logger
}

func New(connectTimeout, readTimeout time.Duration, userAgent string, lg zerolog.Logger) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
	}

	jar, _ := cookiejar.New(nil)

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   connectTimeout + readTimeout,
		},
		userAgent: userAgent,
		lg:        lg.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch GETs the URL and returns the response metadata. Timeouts map to
// *domain.FetchTimeoutError; every other transport or HTTP-status failure
// maps to *domain.FetchError. Content-Type is not restricted and the body is
// returned untruncated.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*domain.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{Reason: err.Error()}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode >= 400 {
		return nil, &domain.FetchError{
			Reason: fmt.Sprintf("http status %d for %s", resp.StatusCode, rawURL),
		}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[name] = strings.Join(values, ", ")
	}

	cookies := map[string]string{}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}
	if resp.Request != nil && resp.Request.URL != nil && f.client.Jar != nil {
		for _, c := range f.client.Jar.Cookies(resp.Request.URL) {
			if _, seen := cookies[c.Name]; !seen {
				cookies[c.Name] = c.Value
			}
		}
	}

	f.lg.Debug().
		Str("url", rawURL).
		Str("final_url", finalURL).
		Int("status_code", resp.StatusCode).
		Int("body_bytes", len(body)).
		Msg("fetch complete")

	return &domain.FetchResult{
		Headers:           headers,
		Cookies:           cookies,
		PageSource:        string(body),
		StatusCode:        resp.StatusCode,
		FinalURL:          finalURL,
		AdditionalDetails: map[string]any{},
	}, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &domain.FetchTimeoutError{Reason: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.FetchTimeoutError{Reason: err.Error()}
	}
	return &domain.FetchError{Reason: err.Error()}
}
