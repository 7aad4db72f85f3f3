package restyutil

import (
	"fmt"
	"net/http/cookiejar"
	"time"

	"cardalert-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const DefaultMaxAttempts = 3

const DefaultTimeout = time.Second * 30

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Client is a cookie-bearing resty client plus the attempt bound
// Execute retries under.
type Client struct {
	*resty.Client
	MaxAttempts int
}

type ClientOptions struct {
	// tracer name passed to telemetry.InstrumentResty
	Name string
	// outbound proxy url, empty for a direct connection
	Proxy string
	// defaults to DefaultMaxAttempts if zero
	MaxAttempts int
	// per-request timeout, defaults to DefaultTimeout if zero; clients
	// that long-poll must set this above the server-side hold duration
	Timeout time.Duration
	// installs the browser-impersonation transport shim; wanted for
	// portals fronted by anti-scraping gateways, not for plain APIs
	BrowserShim bool
}

func NewClient(opts ClientOptions) (*Client, error) {
	client := resty.New()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", userAgent)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client.SetTimeout(timeout)

	if opts.BrowserShim {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	if opts.Proxy != "" {
		client.SetProxy(opts.Proxy)
	}

	telemetry.InstrumentResty(client, opts.Name)

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Client{
		Client:      client,
		MaxAttempts: maxAttempts,
	}, nil
}

// ExhaustedError reports that every transport attempt failed. It wraps
// the last underlying failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Execute sends the request, retrying transport failures (connection
// errors, timeouts) up to the client's attempt bound. HTTP error
// statuses are not failures at this layer; callers check those.
// Context cancellation aborts immediately without further attempts.
func (c *Client) Execute(req *resty.Request, method, url string) (*resty.Response, error) {
	var last error
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		res, err := req.Execute(method, url)
		if err == nil {
			return res, nil
		}
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		last = err
	}
	return nil, &ExhaustedError{Attempts: c.MaxAttempts, Last: last}
}
