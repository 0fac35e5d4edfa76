package liveness

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// maxInfoBody caps how much of the server info response is read.
const maxInfoBody = 64 << 10

// HTTPProbe polls the companion server's info endpoint.
type HTTPProbe struct {
	url        string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	creds      *clientcredentials.Config
	limiter    *rate.Limiter
}

// HTTPOption configures an HTTPProbe.
type HTTPOption func(*HTTPProbe)

// WithHTTPClient sets the base client used for requests and token fetches.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProbe) { p.httpClient = c }
}

// WithStaticToken sends token as a bearer token.
func WithStaticToken(token string) HTTPOption {
	return func(p *HTTPProbe) {
		if token != "" {
			p.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		}
	}
}

// WithClientCredentials fetches bearer tokens with the OAuth2 client
// credentials grant and refreshes them as they expire.
func WithClientCredentials(cfg clientcredentials.Config) HTTPOption {
	return func(p *HTTPProbe) { p.creds = &cfg }
}

// WithRateLimit allows at most one probe per every, with the given burst.
func WithRateLimit(every time.Duration, burst int) HTTPOption {
	return func(p *HTTPProbe) {
		if every > 0 {
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Every(every), burst)
		}
	}
}

// NewHTTPProbe returns a probe for the info endpoint at url.
func NewHTTPProbe(url string, opts ...HTTPOption) *HTTPProbe {
	p := &HTTPProbe{url: url, httpClient: &http.Client{}}
	for _, o := range opts {
		o(p)
	}

	base := context.WithValue(context.Background(), oauth2.HTTPClient, p.httpClient)
	switch {
	case p.creds != nil:
		p.httpClient = oauth2.NewClient(base, p.creds.TokenSource(base))
	case p.tokens != nil:
		p.httpClient = oauth2.NewClient(base, p.tokens)
	}
	return p
}

type serverInfo struct {
	Running *bool `json:"running"`
}

// Check treats any 2xx as up unless the body is JSON carrying
// "running": false. Auth refusals, throttling and gateway errors say
// nothing about the game server and are inconclusive, as are transport
// failures. Other status codes are a confirmed down.
func (p *HTTPProbe) Check(ctx context.Context) (Signal, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Unknown, inconclusive("rate limited: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Unknown, inconclusive("creating request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Unknown, inconclusive("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBody))
	if err != nil {
		return Unknown, inconclusive("reading response body: %v", err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired,
		http.StatusTooManyRequests, http.StatusBadGateway, http.StatusGatewayTimeout:
		return Unknown, inconclusive("info endpoint answered %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Down, nil
	}

	var info serverInfo
	if json.Unmarshal(body, &info) == nil && info.Running != nil && !*info.Running {
		return Down, nil
	}
	return Up, nil
}
