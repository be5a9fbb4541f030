package core

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// the portal is a moodle skin, but institutions customize the login
// form and the logged-in chrome. all known template variants live here
// so a template change touches exactly one file.

func isLoggedIn(doc *goquery.Document) bool {
	// stock moodle renders div.usermenu with span.login inside it when
	// you are *not* logged in
	usermenu := doc.Find("div.usermenu")
	if usermenu.Length() > 0 {
		return usermenu.Find("span.login").Length() == 0
	}
	if doc.Find(".user-info-picture").Length() > 0 {
		return true
	}
	return doc.Find("a[href*='login/logout.php']").Length() > 0
}

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("input[name=logintoken]").Length() > 0 ||
		doc.Find("input#loginId").Length() > 0
}

func hasLoginError(doc *goquery.Document) bool {
	return doc.Find("div.loginerrors").Length() > 0 ||
		doc.Find("a#loginerrormessage").Length() > 0 ||
		doc.Find(".login-error").Length() > 0
}

func hasCaptcha(doc *goquery.Document) bool {
	return doc.Find("img[src*='captcha']").Length() > 0 ||
		doc.Find("#recaptcha, .g-recaptcha").Length() > 0
}

// buildLoginForm fills whichever form variant the login page carries:
// the SSO variant (loginId/loginPw, optionally studentNo) or stock
// moodle (username/password plus a csrf logintoken).
func buildLoginForm(doc *goquery.Document, creds Credentials) (map[string]string, error) {
	if doc.Find("input#loginId").Length() > 0 {
		form := map[string]string{
			"loginId": creds.LoginId,
			"loginPw": creds.Secret,
		}
		if doc.Find("input#studentNo, input[name=studentNo]").Length() > 0 {
			form["studentNo"] = creds.StudentNo
		}
		return form, nil
	}

	logintoken := doc.Find("input[name=logintoken]").AttrOr("value", "")
	if logintoken == "" {
		return nil, fmt.Errorf("could not find a known login form")
	}
	return map[string]string{
		"logintoken": logintoken,
		"username":   creds.LoginId,
		"password":   creds.Secret,
	}, nil
}
