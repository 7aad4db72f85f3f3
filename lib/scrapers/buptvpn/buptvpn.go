package buptvpn

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cardalert-backend/lib/apperr"
	"cardalert-backend/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/buptvpn")

const DefaultBaseURL = "https://vpn.bupt.edu.cn"

const (
	// issued on the first unauthenticated handshake
	sessionCookie = "PHPSESSID"
	// issued only once the portal accepts the credentials
	authCookie = "GP_SESSION_CK"
)

var (
	ErrNoSessionCookie  = fmt.Errorf("missing session cookie after portal handshake")
	ErrLoginRejected    = fmt.Errorf("login rejected: no authenticated session cookie")
	ErrNotAuthenticated = fmt.Errorf("login did not reach the authenticated page")
)

// Client handles the outer web-VPN gateway that fronts the campus
// network. Logging in here is a precondition for reaching the card
// portal through the gateway's rewriting proxy.
type Client struct {
	http    *restyutil.Client
	baseURL *url.URL
}

type ClientOptions struct {
	// defaults to DefaultBaseURL
	BaseURL string
}

func NewClient(http *restyutil.Client, opts ClientOptions) (Client, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return Client{}, err
	}
	return Client{http: http, baseURL: baseURL}, nil
}

func (c Client) loginURL() string {
	return c.baseURL.String() + "/global-protect/login.esp"
}

func (c Client) hasCookie(name string) bool {
	for _, ck := range c.http.GetClient().Jar.Cookies(c.baseURL) {
		if ck.Name == name && ck.Value != "" {
			return true
		}
	}
	return false
}

// Login authenticates against the VPN gateway. A 200 response is not
// proof of success: the portal signals progress purely through cookies,
// so both cookie fragments are checked explicitly and the username must
// be echoed on the landing page.
func (c Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	_, err := c.http.Execute(
		c.http.R().SetContext(ctx),
		resty.MethodGet, c.loginURL(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake request failed")
		return apperr.Recoverable(err)
	}
	if !c.hasCookie(sessionCookie) {
		span.SetStatus(codes.Error, ErrNoSessionCookie.Error())
		return apperr.Recoverable(ErrNoSessionCookie)
	}

	res, err := c.http.Execute(
		c.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"prot":     "https:",
				"server":   c.baseURL.Hostname(),
				"inputStr": "",
				"action":   "getsoftware",
				"user":     username,
				"passwd":   password,
				"ok":       "Log In",
			}),
		resty.MethodPost, c.loginURL(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return apperr.Recoverable(err)
	}
	if !c.hasCookie(authCookie) {
		span.SetStatus(codes.Error, ErrLoginRejected.Error())
		return apperr.Recoverable(ErrLoginRejected)
	}

	body := res.String()
	if !strings.Contains(body, username) || !strings.Contains(body, "客户端下载") {
		span.SetStatus(codes.Error, ErrNotAuthenticated.Error())
		return apperr.Recoverable(ErrNotAuthenticated)
	}

	return nil
}
