package assignments

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"learnsync-backend/lib/scrapers/learnus/core"
	"learnsync-backend/lib/telemetry"
)

// every authenticated page carries the logged-in chrome, otherwise the
// session layer reports it as expired
const chrome = `<div class="usermenu"><a href="/login/logout.php">로그아웃</a></div>`

const loginPage = `<html><body>
<form action="/login/index.php" method="post">
	<input type="hidden" name="logintoken" value="tok123">
	<input type="text" name="username">
	<input type="password" name="password">
</form>
</body></html>`

var dashboardPage = fmt.Sprintf(`<html><body>%s
<div class="course_box"><a class="course_link" href="/course/view.php?id=7">자료구조 (2025-2-CSI2103-01)</a></div>
<div class="course_box"><a class="course_link" href="/course/view.php?id=7">자료구조 (2025-2-CSI2103-01)</a></div>
<div class="course_box"><a class="course_link" href="/course/view.php?id=9">운영체제 (2025-2-CSI3103-01)</a></div>
</body></html>`, chrome)

var assignIndexPage = fmt.Sprintf(`<html><body>%s
<table class="generaltable"><tbody>
<tr>
	<td>1주차</td>
	<td><a href="/mod/assign/view.php?id=101">과제 1</a></td>
	<td>2025-09-10 23:59</td>
	<td>제출 완료</td>
</tr>
<tr>
	<td>2주차</td>
	<td><a href="/mod/assign/view.php?id=102">과제 2</a></td>
	<td></td>
	<td></td>
</tr>
<tr>
	<td>3주차</td>
	<td><a href="/mod/assign/view.php?id=103">과제 1</a></td>
	<td>2025-09-17 23:59</td>
	<td>미제출</td>
</tr>
</tbody></table>
</body></html>`, chrome)

var detailPage = fmt.Sprintf(`<html><body>%s
<div role="main">
	<div id="intro">연결 리스트를 구현하세요.</div>
	<a href="/pluginfile.php/55/mod_assign/intro/spec.pdf">spec.pdf</a>
	<table class="generaltable">
		<tr><th>종료 일시</th><td>2025-09-24 23:59</td></tr>
		<tr><th>제출 여부</th><td>제출 완료</td></tr>
	</table>
</div>
</body></html>`, chrome)

func setupScraper(t *testing.T) Scraper {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(loginPage))
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dashboardPage))
	})
	mux.HandleFunc("/mod/assign/index.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "9" {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(assignIndexPage))
	})
	mux.HandleFunc("/mod/assign/view.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailPage))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(telemetry.SetupForTesting(t, "test:learnus-assignments"))

	client, err := core.NewClient(core.ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	err = client.Login(context.Background(), core.Credentials{LoginId: "student", Secret: "hunter2"})
	require.NoError(t, err)
	return NewScraper(client)
}

func TestCoursesDeduplicated(t *testing.T) {
	scraper := setupScraper(t)

	courses, err := scraper.Courses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Equal(t, "2025-2-CSI2103-01", courses[0].Code)
	require.Equal(t, "자료구조", courses[0].Name)
	require.Equal(t, "2025-2-CSI3103-01", courses[1].Code)
}

func TestCourseAssignments(t *testing.T) {
	scraper := setupScraper(t)
	courses, err := scraper.Courses(context.Background())
	require.NoError(t, err)

	fragments, err := scraper.CourseAssignments(context.Background(), courses[0])
	require.NoError(t, err)
	require.Len(t, fragments, 2)

	// "과제 1" is listed twice; the later listing wins
	first := fragments[0]
	require.Equal(t, "과제 1", first.Title)
	require.Equal(t, "2025-09-17 23:59", first.RawDueDate)
	require.Equal(t, "미제출", first.StatusText)
	require.Equal(t, "2025-2-CSI2103-01", first.CourseCode)
	// the description always comes off the detail page
	require.Equal(t, "연결 리스트를 구현하세요.", first.Description)

	// "과제 2" has an empty due cell, the detail page fills it in
	second := fragments[1]
	require.Equal(t, "과제 2", second.Title)
	require.Equal(t, "2025-09-24 23:59", second.RawDueDate)
	require.Contains(t, second.AttachmentUrl, "pluginfile.php")
	require.Equal(t, second.DetailUrl, second.SubmissionUrl)
}

func TestScrapeAllIsolatesCourseFailures(t *testing.T) {
	scraper := setupScraper(t)

	result, err := scraper.ScrapeAll(context.Background())
	require.NoError(t, err)

	// course 9 serves a 500 but course 7 still yields fragments
	require.Len(t, result.Fragments, 2)
	require.Len(t, result.Failed, 1)
	require.Equal(t, "2025-2-CSI3103-01", result.Failed[0].Course.Code)
}

func TestSplitCourseTitle(t *testing.T) {
	name, code := splitCourseTitle("자료구조 (2025-2-CSI2103-01)")
	require.Equal(t, "자료구조", name)
	require.Equal(t, "2025-2-CSI2103-01", code)

	name, code = splitCourseTitle("괄호 없는 과목")
	require.Equal(t, "괄호 없는 과목", name)
	require.Equal(t, "", code)
}
