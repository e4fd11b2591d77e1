package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	xproxy "golang.org/x/net/proxy"

	"github.com/webpeel/webpeel/models"
)

// Fingerprint presets accepted by the TLS rung.
const (
	FingerprintChrome  = "chrome"  // Chrome 132-136 family
	FingerprintFirefox = "firefox" // Firefox 120
	FingerprintSafari  = "safari"  // Safari 16
)

// helloSpecFor maps a preset name to a ClientHello spec with ALPN locked
// to http/1.1. The lock matters: utls may otherwise negotiate h2, which
// Go's http.Transport cannot frame over a utls connection.
func helloSpecFor(preset string) (tls.ClientHelloSpec, error) {
	var id tls.ClientHelloID
	switch strings.ToLower(preset) {
	case "", FingerprintChrome, "chrome132", "chrome133", "chrome134", "chrome135", "chrome136":
		id = tls.HelloChrome_Auto
	case FingerprintFirefox, "firefox120":
		id = tls.HelloFirefox_120
	case FingerprintSafari, "safari16":
		id = tls.HelloSafari_16_0
	default:
		return tls.ClientHelloSpec{}, models.NewValidationError(models.ErrCodeInvalidOpt,
			fmt.Sprintf("unknown tls fingerprint preset: %s", preset))
	}

	spec, err := tls.UTLSIdToSpec(id)
	if err != nil {
		return tls.ClientHelloSpec{}, models.NewNetworkError("tls spec generation failed", err)
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	return spec, nil
}

// TLSFetcher is the last rung: a native client speaking a spoofed TLS
// ClientHello so the handshake is indistinguishable from a real browser.
// The JA3/JA4 surface lives entirely in the ClientHello spec; HTTP-level
// headers come from the same rotation as the simple rung.
type TLSFetcher struct {
	Preset string
}

// NewTLSFetcher creates a TLS-fingerprint fetcher with the given preset
// (empty means the Chrome family).
func NewTLSFetcher(preset string) *TLSFetcher {
	return &TLSFetcher{Preset: preset}
}

func (f *TLSFetcher) Name() string { return models.MethodTLS }

func (f *TLSFetcher) Fetch(ctx context.Context, req *Request) (*models.FetchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	spec, err := helloSpecFor(f.Preset)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialSpoofed(ctx, network, addr, req.Proxy, &spec)
		},
		ForceAttemptHTTP2: false,
	}
	if req.Proxy != "" {
		if proxyURL, perr := url.Parse(req.Proxy); perr == nil &&
			(proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer client.CloseIdleConnections()

	resp, finalURL, err := doGet(ctx, client, req.URL, func(r *http.Request) {
		applyBrowserHeaders(r, req.Headers)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 403 || resp.StatusCode == 503 {
		return nil, models.NewBlockedError(fmt.Sprintf("HTTP %d from origin", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, models.NewNetworkError(fmt.Sprintf("HTTP %d from origin", resp.StatusCode), nil)
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
	if result.IsHTML() {
		html := string(body)
		if ch := DetectChallenge(html, resp.StatusCode); ch.IsChallenge && ch.Type != ChallengeEmptyShell &&
			ch.Confidence >= ChallengeConfidenceThreshold {
			return nil, models.NewBlockedError("challenge page detected: " + ch.Type)
		}
		result.Title = ExtractTitle(html)
	}
	return result, nil
}

// dialSpoofed establishes the TCP (optionally SOCKS5-proxied) connection
// and wraps it in a utls client speaking the given ClientHello spec.
func dialSpoofed(ctx context.Context, network, addr, proxy string, spec *tls.ClientHelloSpec) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var rawConn net.Conn
	var err error
	if proxy != "" {
		if proxyURL, perr := url.Parse(proxy); perr == nil &&
			(proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h") {
			rawConn, err = dialSocks5(ctx, dialer, proxyURL, addr)
			if err != nil {
				return nil, fmt.Errorf("socks5 dial: %w", err)
			}
		}
	}
	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// dialSocks5 negotiates a CONNECT tunnel to addr through the proxy, so the
// TLS handshake afterwards runs against the origin rather than the proxy
// socket.
func dialSocks5(ctx context.Context, forward *net.Dialer, proxyURL *url.URL, addr string) (net.Conn, error) {
	var auth *xproxy.Auth
	if u := proxyURL.User; u != nil {
		auth = &xproxy.Auth{User: u.Username()}
		auth.Password, _ = u.Password()
	}
	d, err := xproxy.SOCKS5("tcp", proxyURL.Host, auth, forward)
	if err != nil {
		return nil, err
	}
	if cd, ok := d.(xproxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return d.Dial("tcp", addr)
}
