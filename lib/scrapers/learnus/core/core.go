// core implements the authenticated portal session itself, it does not
// know anything about assignments or any other page walked after login.

package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"learnsync-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/learnus/core")

// State tracks where the session is in its login lifecycle.
type State int

const (
	StateInit State = iota
	StateNavigatingLogin
	StateSubmittingCredentials
	StateVerifyingSession
	StateAuthenticated
	StateLoginFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNavigatingLogin:
		return "navigating_login"
	case StateSubmittingCredentials:
		return "submitting_credentials"
	case StateVerifyingSession:
		return "verifying_session"
	case StateAuthenticated:
		return "authenticated"
	case StateLoginFailed:
		return "login_failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	ReasonUnreachable
	ReasonBadCredentials
	ReasonCaptcha
)

func (r FailureReason) String() string {
	switch r {
	case ReasonUnreachable:
		return "unreachable"
	case ReasonBadCredentials:
		return "bad_credentials"
	case ReasonCaptcha:
		return "captcha"
	}
	return "unknown"
}

// LoginError is the terminal result of a failed login attempt.
type LoginError struct {
	Reason FailureReason
	Err    error
}

func (e *LoginError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("login failed: %s", e.Reason)
	}
	return fmt.Sprintf("login failed: %s: %s", e.Reason, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

var ErrSessionExpired = fmt.Errorf("portal session expired")
var ErrNotAuthenticated = fmt.Errorf("session is not authenticated")

type ClientOptions struct {
	BaseUrl string
	// per-navigation budget, defaults to 15 seconds
	NavTimeout time.Duration
}

// Credentials are opaque to everything below this package; only the
// login form ever sees the secret.
type Credentials struct {
	LoginId string
	Secret  string
	// some institutions demand a third identity field on the SSO form,
	// it is only submitted when the form asks for it
	StudentNo string
}

// Client owns one browser-grade http session against the portal. One
// Client exists per sync cycle and is closed unconditionally at the end
// of it.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	state State
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	navTimeout := opts.NavTimeout
	if navTimeout == 0 {
		navTimeout = time.Second * 15
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(navTimeout)

	// 2 requests max per second
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "scrapers/learnus/http")

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		state:   StateInit,
	}
	return c, nil
}

func (c *Client) State() State { return c.state }

func (c *Client) failLogin(reason FailureReason, err error) error {
	c.state = StateLoginFailed
	// a failed login is terminal for this session, free the
	// connection immediately rather than waiting for Close
	c.Http.GetClient().CloseIdleConnections()
	return &LoginError{Reason: reason, Err: err}
}

// Login drives the session from Init to Authenticated. It may be called
// again after Fetch reported ErrSessionExpired, never after Close.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	if c.state == StateClosed {
		return fmt.Errorf("login on closed session")
	}

	c.state = StateNavigatingLogin
	res, err := c.Http.R().
		SetContext(ctx).
		Get("/login/index.php")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return c.failLogin(ReasonUnreachable, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login page")
		return c.failLogin(ReasonUnknown, err)
	}

	if hasCaptcha(doc) {
		span.SetStatus(codes.Error, "login page demands a captcha")
		return c.failLogin(ReasonCaptcha, nil)
	}

	form, err := buildLoginForm(doc, creds)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return c.failLogin(ReasonUnknown, err)
	}

	c.state = StateSubmittingCredentials
	_, err = c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/login/index.php")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return c.failLogin(ReasonUnreachable, err)
	}

	c.state = StateVerifyingSession
	res, err = c.Http.R().
		SetContext(ctx).
		Get("/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request dashboard after login")
		return c.failLogin(ReasonUnreachable, err)
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse dashboard html")
		return c.failLogin(ReasonUnknown, err)
	}

	switch {
	case hasLoginError(doc):
		span.SetStatus(codes.Error, "portal rejected credentials")
		return c.failLogin(ReasonBadCredentials, nil)
	case hasCaptcha(doc):
		span.SetStatus(codes.Error, "portal demands a captcha")
		return c.failLogin(ReasonCaptcha, nil)
	case isLoggedIn(doc):
		c.state = StateAuthenticated
		return nil
	}

	// neither the logged-in marker nor an error banner showed up.
	// treating this as success has burned us before, so it is a failure.
	span.SetStatus(codes.Error, "ambiguous post-login page")
	return c.failLogin(ReasonUnknown, fmt.Errorf("no session marker found"))
}

// Page is one authenticated fetch result. Url is the final url after
// redirects so relative links can be resolved against it.
type Page struct {
	Doc *goquery.Document
	Url *url.URL
}

// Fetch requests a page within the authenticated session. It re-checks
// the session marker on every page so a silently invalidated session
// surfaces as ErrSessionExpired instead of garbage parses downstream.
func (c *Client) Fetch(ctx context.Context, ref string) (Page, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	if c.state != StateAuthenticated {
		return Page{}, ErrNotAuthenticated
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Page{}, err
	}
	if res.StatusCode() >= 400 {
		// an error page has no session chrome, do not let it be
		// mistaken for an expired session
		err := fmt.Errorf("http %d fetching %s", res.StatusCode(), ref)
		span.SetStatus(codes.Error, err.Error())
		return Page{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return Page{}, err
	}

	if isLoginPage(doc) || !isLoggedIn(doc) {
		span.SetStatus(codes.Error, ErrSessionExpired.Error())
		// allow exactly the caller's one re-login attempt
		c.state = StateInit
		return Page{}, ErrSessionExpired
	}

	return Page{
		Doc: doc,
		Url: res.Request.RawRequest.URL,
	}, nil
}

// Close is idempotent and reachable from every state.
func (c *Client) Close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.Http.GetClient().CloseIdleConnections()
}
