package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/webpeel/webpeel/models"
)

// SimpleFetcher is the cheapest rung: a plain GET over a pooled,
// HTTP/2-capable client with manual redirect handling and SSRF
// re-validation at every hop.
type SimpleFetcher struct {
	client     *http.Client
	validators *validatorCache
}

// NewSimpleFetcher builds the shared pooled client. DNS resolution
// prefers IPv4 answers; connections are kept alive for reuse across
// requests.
func NewSimpleFetcher() *SimpleFetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext:         dialIPv4Preferred(dialer),
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 6,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &SimpleFetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // redirects handled by doGet
			},
		},
		validators: newValidatorCache(),
	}
}

// dialIPv4Preferred resolves the host itself and tries IPv4 addresses
// before IPv6 ones, falling back address by address.
func dialIPv4Preferred(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}

		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(addrs, func(i, j int) bool {
			return addrs[i].IP.To4() != nil && addrs[j].IP.To4() == nil
		})

		var lastErr error
		for _, a := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(a.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses for %s", host)
		}
		return nil, lastErr
	}
}

func (f *SimpleFetcher) Name() string { return models.MethodSimple }

// Fetch performs the GET. 403/503, challenge markers, and suspiciously
// small HTML bodies raise a blocked error so the escalator can advance.
func (f *SimpleFetcher) Fetch(ctx context.Context, req *Request) (*models.FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	client := f.client
	if req.Proxy != "" {
		proxied, err := f.proxiedClient(req.Proxy)
		if err != nil {
			return nil, err
		}
		client = proxied
	}

	entry, hasValidators := f.validators.get(req.URL)

	resp, finalURL, err := doGet(ctx, client, req.URL, func(r *http.Request) {
		applyBrowserHeaders(r, req.Headers)
		if hasValidators {
			if entry.ETag != "" {
				r.Header.Set("If-None-Match", entry.ETag)
			}
			if entry.LastModified != "" {
				r.Header.Set("If-Modified-Since", entry.LastModified)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A 304 never reaches the caller: substitute the body the validators
	// were recorded against, or fail if it is gone.
	if resp.StatusCode == http.StatusNotModified {
		if hasValidators && len(entry.Body) > 0 {
			return &models.FetchResult{
				Body:        entry.Body,
				FinalURL:    entry.FinalURL,
				StatusCode:  http.StatusNotModified,
				ContentType: entry.ContentType,
				Title:       ExtractTitle(string(entry.Body)),
				Method:      f.Name(),
			}, nil
		}
		return nil, models.NewNetworkError("304 received but no cached body available", nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if !AcceptableContentType(contentType, finalURL) {
		return nil, models.NewValidationError(models.ErrCodeInvalidOpt,
			fmt.Sprintf("unsupported content type: %s", models.SanitizeMessage(contentType)))
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	result := &models.FetchResult{
		Body:        body,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Method:      f.Name(),
		Headers: models.ResponseHeaders{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			CacheControl: resp.Header.Get("Cache-Control"),
		},
	}

	if resp.StatusCode == 403 || resp.StatusCode == 503 {
		return nil, models.NewBlockedError(fmt.Sprintf("HTTP %d from origin", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, models.NewNetworkError(fmt.Sprintf("HTTP %d from origin", resp.StatusCode), nil)
	}

	if result.IsHTML() {
		html := string(body)
		if len(html) < 100 {
			return nil, models.NewBlockedError("response body suspiciously small")
		}
		if ch := DetectChallenge(html, resp.StatusCode); ch.IsChallenge && ch.Type != ChallengeEmptyShell &&
			ch.Confidence >= ChallengeConfidenceThreshold {
			return nil, models.NewBlockedError("challenge page detected: " + ch.Type)
		}
		result.Title = ExtractTitle(html)
	}

	// Record validators keyed by the *original* URL so the next request
	// for the same input can go conditional.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		f.validators.record(req.URL, result.Headers.ETag, result.Headers.LastModified,
			body, contentType, finalURL)
	}

	return result, nil
}

// proxiedClient clones the pooled client with a per-request proxy. The
// clone shares nothing with the pool so proxied connections are never
// reused for direct requests.
func (f *SimpleFetcher) proxiedClient(proxy string) (*http.Client, error) {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeInvalidOpt, "invalid proxy url")
	}
	transport := f.client.Transport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	return &http.Client{
		Transport:     transport,
		CheckRedirect: f.client.CheckRedirect,
	}, nil
}
