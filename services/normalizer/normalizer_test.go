package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnsync-backend/lib/scrapers/learnus/assignments"
	"learnsync-backend/lib/timezone"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, timezone.Location)

func TestParseDueDate(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want time.Time
	}{
		{"2025-10-02 23:59", time.Date(2025, 10, 2, 23, 59, 0, 0, timezone.Location)},
		{"2025-10-02", time.Date(2025, 10, 2, 0, 0, 0, 0, timezone.Location)},
		{"2025.10.02 23:59", time.Date(2025, 10, 2, 23, 59, 0, 0, timezone.Location)},
		{"10/02/2025 23:59", time.Date(2025, 10, 2, 23, 59, 0, 0, timezone.Location)},
		{"2025년 10월 2일 23:59", time.Date(2025, 10, 2, 23, 59, 0, 0, timezone.Location)},
		{"2025년 10월 2일", time.Date(2025, 10, 2, 0, 0, 0, 0, timezone.Location)},
		{"10월 2일 23:59", time.Date(2025, 10, 2, 23, 59, 0, 0, timezone.Location)},
		{"  2025-10-02 23:59  ", time.Date(2025, 10, 2, 23, 59, 0, 0, timezone.Location)},
	} {
		got, err := ParseDueDate(tc.raw, testNow)
		require.NoError(t, err, tc.raw)
		require.True(t, got.Equal(tc.want), "%s: got %s want %s", tc.raw, got, tc.want)
	}
}

func TestParseDueDateYearlessWrapsForward(t *testing.T) {
	december := time.Date(2025, 12, 20, 12, 0, 0, 0, timezone.Location)
	got, err := ParseDueDate("1월 10일 23:59", december)
	require.NoError(t, err)
	require.Equal(t, 2026, got.Year())
}

func TestParseDueDateRejectsUnknownFormats(t *testing.T) {
	for _, raw := range []string{"", "-", "next tuesday", "20251002", "02 Oct 2025"} {
		_, err := ParseDueDate(raw, testNow)
		require.Error(t, err, raw)
	}
}

func TestNormalizeSkipsUnparseableWithWarning(t *testing.T) {
	result := Normalize(Request{
		AccountId: "acct",
		Now:       testNow,
		Fragments: []assignments.Fragment{
			{CourseCode: "CS101", Title: "ok", RawDueDate: "2025-09-10 23:59"},
			{CourseCode: "CS101", Title: "broken", RawDueDate: "someday"},
		},
	})
	require.Len(t, result.Assignments, 1)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, "broken", result.Warnings[0].Fragment.Title)
}

func TestDeriveIdStable(t *testing.T) {
	due := time.Date(2025, 9, 10, 23, 59, 0, 0, timezone.Location)
	a := DeriveId("acct", "CS101", "과제 1", due)
	b := DeriveId("acct", "CS101", "과제 1", due)
	require.Equal(t, a, b)
	require.Len(t, a, 16)

	require.NotEqual(t, a, DeriveId("acct2", "CS101", "과제 1", due))
	require.NotEqual(t, a, DeriveId("acct", "CS102", "과제 1", due))
	require.NotEqual(t, a, DeriveId("acct", "CS101", "과제 2", due))
	require.NotEqual(t, a, DeriveId("acct", "CS101", "과제 1", due.Add(time.Minute)))
}

func TestDerivePriorityBoundaries(t *testing.T) {
	for _, tc := range []struct {
		days int
		want Priority
	}{
		{1, PriorityHigh},
		{3, PriorityHigh},
		{4, PriorityMedium},
		{7, PriorityMedium},
		{8, PriorityLow},
		{30, PriorityLow},
	} {
		due := testNow.AddDate(0, 0, tc.days)
		require.Equal(t, tc.want, derivePriority(due, testNow), "%d days", tc.days)
	}

	// due 3 days and 20 hours out still rounds down to 3
	due := testNow.Add(3*24*time.Hour + 20*time.Hour)
	require.Equal(t, PriorityHigh, derivePriority(due, testNow))
}

func TestDeriveStatus(t *testing.T) {
	future := testNow.AddDate(0, 0, 5)
	past := testNow.AddDate(0, 0, -1)

	for _, tc := range []struct {
		name string
		f    assignments.Fragment
		due  time.Time
		want Status
	}{
		{"keyword submitted", assignments.Fragment{StatusText: "제출 완료"}, future, StatusSubmitted},
		{"keyword graded", assignments.Fragment{StatusText: "채점 완료"}, future, StatusGraded},
		{"keyword in progress", assignments.Fragment{StatusText: "진행 중"}, future, StatusInProgress},
		{"submission link", assignments.Fragment{SubmissionUrl: "https://x/submit"}, past, StatusSubmitted},
		{"past due unsubmitted", assignments.Fragment{}, past, StatusOverdue},
		{"default pending", assignments.Fragment{}, future, StatusPending},
	} {
		require.Equal(t, tc.want, deriveStatus(tc.f, tc.due, testNow), tc.name)
	}
}

func TestNormalizeDeduplicatesMostComplete(t *testing.T) {
	result := Normalize(Request{
		AccountId: "acct",
		Now:       testNow,
		Fragments: []assignments.Fragment{
			{CourseCode: "CS101", Title: "과제 1", RawDueDate: "2025-09-10 23:59"},
			{CourseCode: "CS101", Title: "과제 1", RawDueDate: "2025-09-10 23:59", Description: "full", AttachmentUrl: "https://x/file.pdf"},
		},
	})
	require.Len(t, result.Assignments, 1)
	require.Equal(t, "full", result.Assignments[0].Description)
}

func TestNormalizeIdempotent(t *testing.T) {
	req := Request{
		AccountId:  "acct",
		University: "yonsei",
		StudentId:  "2021123456",
		Now:        testNow,
		Fragments: []assignments.Fragment{
			{CourseCode: "CS101", CourseName: "자료구조", Title: "프로젝트 2", RawDueDate: "2025-09-03 23:59"},
			{CourseCode: "MA202", CourseName: "해석학", Title: "보고서", RawDueDate: "2025-09-11"},
		},
	}
	first := Normalize(req)
	second := Normalize(req)
	require.Equal(t, first, second)

	require.Equal(t, PriorityHigh, first.Assignments[0].Priority)
	require.True(t, first.Assignments[0].IsUpcoming)
	require.Contains(t, first.Assignments[0].Tags, "프로젝트")
	require.Contains(t, first.Assignments[0].Tags, "자료구조")
}

func TestDeriveTagsFallback(t *testing.T) {
	require.Equal(t, []string{"과제"}, deriveTags("untitled thing", ""))
	require.Equal(t, []string{"퀴즈", "회로이론"}, deriveTags("중간 퀴즈", "회로이론"))
}
