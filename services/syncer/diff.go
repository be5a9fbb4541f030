package syncer

import (
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"learnsync-backend/services/normalizer"
)

// Record is one stored assignment plus its removal-debounce counter.
type Record struct {
	normalizer.Assignment
	// consecutive successful scrapes the assignment was absent from
	MissingCount int `json:"missing_count"`
}

// a record absent from this many consecutive successful scrapes is
// treated as genuinely deleted by the instructor, not a template hiccup
const missingThreshold = 2

type diffResult struct {
	Records   []Record
	New       []normalizer.Assignment
	Updated   int
	Removed   int
	Unchanged int
}

// bookkeeping fields the engine owns are not content changes
var contentDiffOpts = cmpopts.IgnoreFields(normalizer.Assignment{},
	"CreatedAt", "UpdatedAt", "IsNew")

// diffSnapshot merges the current scrape into the previous snapshot.
// First appearance marks IsNew and keeps now as CreatedAt; a content
// change refreshes UpdatedAt; an unchanged record keeps its previous
// timestamps. Records absent from the scrape survive one miss (and any
// number of misses while their course page is failing) before removal.
func diffSnapshot(prev []Record, current []normalizer.Assignment, failedCourses map[string]bool, now time.Time) diffResult {
	prevById := map[string]Record{}
	for _, r := range prev {
		prevById[r.Id] = r
	}

	var out diffResult
	seen := map[string]bool{}

	for _, cur := range current {
		seen[cur.Id] = true
		old, existed := prevById[cur.Id]
		if !existed {
			cur.IsNew = true
			cur.CreatedAt = now
			cur.UpdatedAt = now
			out.New = append(out.New, cur)
			out.Records = append(out.Records, Record{Assignment: cur})
			continue
		}

		cur.IsNew = false
		cur.CreatedAt = old.CreatedAt
		if cmp.Equal(old.Assignment, cur, contentDiffOpts) {
			cur.UpdatedAt = old.UpdatedAt
			out.Unchanged++
		} else {
			cur.UpdatedAt = now
			out.Updated++
		}
		out.Records = append(out.Records, Record{Assignment: cur})
	}

	for _, old := range prev {
		if seen[old.Id] {
			continue
		}
		if failedCourses[old.CourseCode] {
			// the course page did not load this cycle, absence proves
			// nothing; the id was in the prior snapshot though, so it
			// is no longer new
			old.IsNew = false
			out.Records = append(out.Records, old)
			continue
		}
		old.MissingCount++
		if old.MissingCount >= missingThreshold {
			out.Removed++
			continue
		}
		old.IsNew = false
		out.Records = append(out.Records, old)
	}

	return out
}
