package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"learnsync-backend/lib/telemetry"
)

const ssoLoginPage = `<html><body>
<form action="/login/index.php" method="post">
	<input type="text" id="loginId" name="loginId">
	<input type="password" id="loginPw" name="loginPw">
</form>
</body></html>`

const stockLoginPage = `<html><body>
<form action="/login/index.php" method="post">
	<input type="hidden" name="logintoken" value="tok123">
	<input type="text" name="username">
	<input type="password" name="password">
</form>
</body></html>`

const captchaLoginPage = `<html><body>
<form action="/login/index.php" method="post">
	<input type="text" id="loginId" name="loginId">
	<img src="/theme/captcha.php?x=1">
</form>
</body></html>`

const loggedInDashboard = `<html><body>
<div class="usermenu"><a href="/login/logout.php">로그아웃</a></div>
<div class="course_box"><a class="course_link" href="/course/view.php?id=7">자료구조 (2025-2-CSI2103-01)</a></div>
</body></html>`

const loggedOutDashboard = `<html><body>
<div class="usermenu"><span class="login">로그인</span></div>
</body></html>`

const rejectedDashboard = `<html><body>
<div class="usermenu"><span class="login">로그인</span></div>
<div class="loginerrors">아이디 또는 비밀번호가 잘못 입력되었습니다.</div>
</body></html>`

// portalFixture is a tiny scripted portal: the login handler checks the
// submitted form and flips the session state the real portal would.
type portalFixture struct {
	loginPage   string
	dashboard   func(loggedIn bool) string
	password    string
	loggedIn    bool
	loginPosts  int
	expireAfter int
}

func newPortalFixture(t *testing.T, loginPage, password string) (*portalFixture, *Client) {
	f := &portalFixture{
		loginPage: loginPage,
		password:  password,
		dashboard: func(loggedIn bool) string {
			if loggedIn {
				return loggedInDashboard
			}
			return loggedOutDashboard
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(f.loginPage))
			return
		}
		f.loginPosts++
		r.ParseForm()
		secret := r.Form.Get("loginPw")
		if secret == "" {
			secret = r.Form.Get("password")
		}
		f.loggedIn = secret == f.password
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if f.expireAfter > 0 {
			f.expireAfter--
			if f.expireAfter == 0 {
				f.loggedIn = false
			}
		}
		if !f.loggedIn && f.loginPage == ssoLoginPage {
			w.Write([]byte(rejectedDashboard))
			return
		}
		w.Write([]byte(f.dashboard(f.loggedIn)))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(telemetry.SetupForTesting(t, "test:learnus-core"))

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return f, client
}

func TestLoginSsoForm(t *testing.T) {
	fixture, client := newPortalFixture(t, ssoLoginPage, "hunter2")
	require.Equal(t, StateInit, client.State())

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, client.State())
	require.Equal(t, 1, fixture.loginPosts)
}

func TestLoginStockMoodleForm(t *testing.T) {
	_, client := newPortalFixture(t, stockLoginPage, "hunter2")

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, client.State())
}

func TestLoginBadCredentials(t *testing.T) {
	_, client := newPortalFixture(t, ssoLoginPage, "hunter2")

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "wrong"})
	require.Error(t, err)
	require.Equal(t, StateLoginFailed, client.State())

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	require.Equal(t, ReasonBadCredentials, loginErr.Reason)
}

func TestLoginCaptchaDetected(t *testing.T) {
	_, client := newPortalFixture(t, captchaLoginPage, "hunter2")

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	require.Equal(t, ReasonCaptcha, loginErr.Reason)
}

func TestLoginUnreachablePortal(t *testing.T) {
	t.Cleanup(telemetry.SetupForTesting(t, "test:learnus-core"))
	client, err := NewClient(ClientOptions{BaseUrl: "http://127.0.0.1:1"})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	err = client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	require.Equal(t, ReasonUnreachable, loginErr.Reason)
}

func TestLoginAmbiguousMarkerIsFailure(t *testing.T) {
	fixture, client := newPortalFixture(t, stockLoginPage, "hunter2")
	// a page with neither the logged-in chrome nor an error banner
	fixture.dashboard = func(bool) string {
		return `<html><body><p>점검 중입니다.</p></body></html>`
	}

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	require.Equal(t, ReasonUnknown, loginErr.Reason)
	require.Equal(t, StateLoginFailed, client.State())
}

func TestFetchRequiresAuthentication(t *testing.T) {
	_, client := newPortalFixture(t, ssoLoginPage, "hunter2")

	_, err := client.Fetch(context.Background(), "/")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestFetchDetectsExpiredSession(t *testing.T) {
	fixture, client := newPortalFixture(t, stockLoginPage, "hunter2")

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	require.NoError(t, err)

	page, err := client.Fetch(context.Background(), "/")
	require.NoError(t, err)
	require.NotNil(t, page.Doc)

	// the portal silently drops the session
	fixture.loggedIn = false
	_, err = client.Fetch(context.Background(), "/")
	require.ErrorIs(t, err, ErrSessionExpired)

	// the expiry resets the state machine so one re-login works
	fixture.loggedIn = false
	err = client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, StateAuthenticated, client.State())
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	_, client := newPortalFixture(t, ssoLoginPage, "hunter2")
	client.Close()
	client.Close()
	require.Equal(t, StateClosed, client.State())

	err := client.Login(context.Background(), Credentials{LoginId: "student", Secret: "hunter2"})
	require.Error(t, err)
}

func mustParse(t *testing.T, page string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestBuildLoginFormVariants(t *testing.T) {
	ssoDoc := mustParse(t, ssoLoginPage)
	form, err := buildLoginForm(ssoDoc, Credentials{LoginId: "a", Secret: "b", StudentNo: "c"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"loginId": "a", "loginPw": "b"}, form)

	stockDoc := mustParse(t, stockLoginPage)
	form, err = buildLoginForm(stockDoc, Credentials{LoginId: "a", Secret: "b"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"logintoken": "tok123", "username": "a", "password": "b"}, form)

	_, err = buildLoginForm(mustParse(t, "<html><body></body></html>"), Credentials{})
	require.Error(t, err)
}
