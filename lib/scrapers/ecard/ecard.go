package ecard

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"cardalert-backend/lib/apperr"
	"cardalert-backend/lib/htmlutil"
	"cardalert-backend/lib/restyutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/ecard")

// The card portal is only reachable through the VPN gateway's
// rewriting proxy, hence the nested URL.
const DefaultBaseURL = "https://vpn.bupt.edu.cn/http/ecard.bupt.edu.cn"

const (
	loginPageMarker      = "用户登录</a>"
	consumePageMarker    = "User/ConsumeInfo.aspx'>消费信息查询</a>"
	personalPageMarker   = "个 人 基 本 信 息"
	badCredentialsMarker = "账户或密码错误"
)

var (
	ErrBadCredentials = fmt.Errorf("the portal rejected the card-service username or password")
	ErrLoginFailed    = fmt.Errorf("card-service login did not land on the expected page")
	ErrQueryFailed    = fmt.Errorf("consume info query did not return the results page")
	ErrParse          = fmt.Errorf("unexpected portal markup")
)

// FetchError reports a navigation that came back with a non-200 status.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s returned status %d", e.URL, e.StatusCode)
}

// ValidationError reports a page that loaded without its identifying
// marker. The usual cause is a silent redirect back to the login page
// after session expiry, which must never be misread as success.
type ValidationError struct {
	URL    string
	Marker string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("marker %q not found on %s", e.Marker, e.URL)
}

// Page is an immutable snapshot of the last fetched document. Every
// navigation call returns a fresh one and parse methods take it as an
// explicit argument, so navigate-then-parse ordering is a visible data
// dependency rather than hidden client state.
type Page struct {
	doc *goquery.Document
}

// Client emulates a browser session on the card-service portal. ASPX
// pages carry server-generated view-state tokens that must be echoed
// back on every submission, so form posts always start from the fields
// of a previously fetched Page.
type Client struct {
	http    *restyutil.Client
	baseURL string
}

type ClientOptions struct {
	// defaults to DefaultBaseURL
	BaseURL string
}

func NewClient(http *restyutil.Client, opts ClientOptions) Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return Client{http: http, baseURL: strings.TrimSuffix(base, "/")}
}

func newPage(res *resty.Response) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, apperr.Recoverable(fmt.Errorf("%w: %v", ErrParse, err))
	}
	return &Page{doc: doc}, nil
}

// Goto fetches a URL and validates the response both by status and by
// the presence of a literal substring unique to the target page.
func (c Client) Goto(ctx context.Context, pageURL, marker string) (*Page, error) {
	ctx, span := tracer.Start(ctx, "client:Goto")
	defer span.End()

	res, err := c.http.Execute(
		c.http.R().SetContext(ctx),
		resty.MethodGet, pageURL,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, apperr.Recoverable(err)
	}
	if res.StatusCode() != 200 {
		err := &FetchError{URL: pageURL, StatusCode: res.StatusCode()}
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.Recoverable(err)
	}
	if marker != "" && !strings.Contains(res.String(), marker) {
		err := &ValidationError{URL: pageURL, Marker: marker}
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.Recoverable(err)
	}
	return newPage(res)
}

func (c Client) GotoLoginPage(ctx context.Context) (*Page, error) {
	return c.Goto(ctx, c.baseURL+"/Login.aspx", loginPageMarker)
}

func (c Client) GotoConsumeInfoPage(ctx context.Context) (*Page, error) {
	return c.Goto(ctx, c.baseURL+"/User/ConsumeInfo.aspx", consumePageMarker)
}

func (c Client) GotoPersonalInfoPage(ctx context.Context) (*Page, error) {
	return c.Goto(ctx, c.baseURL+"/User/baseinfo.aspx", personalPageMarker)
}

// Login submits the card-service credentials on top of the login
// page's server-rendered form tokens.
func (c Client) Login(ctx context.Context, loginPage *Page, username, password string) (*Page, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	form := htmlutil.FormFields(loginPage.doc)
	form.Set("txtUserName", username)
	form.Set("txtPassword", password)
	form.Set("__EVENTTARGET", "btnLogin")

	res, err := c.http.Execute(
		c.http.R().SetContext(ctx).SetFormDataFromValues(form),
		resty.MethodPost, c.baseURL+"/Login.aspx",
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return nil, apperr.Recoverable(err)
	}
	if strings.Contains(res.String(), badCredentialsMarker) {
		span.SetStatus(codes.Error, ErrBadCredentials.Error())
		return nil, apperr.Recoverable(ErrBadCredentials)
	}
	if !strings.HasSuffix(res.RawResponse.Request.URL.Path, "Index.aspx") {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return nil, apperr.Recoverable(ErrLoginFailed)
	}
	return newPage(res)
}

// LookupConsumeInfo submits the spending-records query for the given
// date range. With pressSortToggle it simulates pressing the
// result-ordering arrow instead of the search button; the two submit
// targets are mutually exclusive on the portal side.
func (c Client) LookupConsumeInfo(ctx context.Context, consumePage *Page, start, end time.Time, pressSortToggle bool) (*Page, error) {
	ctx, span := tracer.Start(ctx, "client:LookupConsumeInfo")
	defer span.End()

	form := htmlutil.FormFields(consumePage.doc)
	form.Set("__EVENTARGUMENT", "")
	if pressSortToggle {
		form.Set("__EVENTTARGET", "ctl00$ContentPlaceHolder1$gridView$ctl01$SortBt")
		form.Del("ctl00$ContentPlaceHolder1$btnSearch")
	} else {
		form.Set("__EVENTTARGET", "")
		form.Set("ctl00$ContentPlaceHolder1$btnSearch", "查  询")
	}
	form.Set("ctl00$ContentPlaceHolder1$txtStartDate", start.Format("2006-01-02"))
	form.Set("ctl00$ContentPlaceHolder1$txtEndDate", end.Format("2006-01-02"))
	form.Set("ctl00$ContentPlaceHolder1$rbtnType", "0")

	res, err := c.http.Execute(
		c.http.R().SetContext(ctx).SetFormDataFromValues(form),
		resty.MethodPost, c.baseURL+"/User/ConsumeInfo.aspx",
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup request failed")
		return nil, apperr.Recoverable(err)
	}
	if !strings.Contains(res.String(), consumePageMarker) {
		span.SetStatus(codes.Error, ErrQueryFailed.Error())
		return nil, apperr.Recoverable(ErrQueryFailed)
	}
	return newPage(res)
}
