package platform

import (
	"strings"
	"time"
)

// reviewActivity is one timestamped action on a merge request: a review, an
// approval, a comment.
type reviewActivity struct {
	Actor string
	At    time.Time
	Body  string
}

// pickupSeconds derives the review-pickup latency for platforms without a
// first-class field: the first activity from someone other than the author
// counts as pickup. The author's own activity is excluded, as are very short
// comments (emoji-style acks) which are too ambiguous to count as review.
// Empty or all-self activity yields zero.
func pickupSeconds(createdAt time.Time, author string, activities []reviewActivity) int64 {
	var first time.Time
	for _, a := range activities {
		if strings.EqualFold(a.Actor, author) {
			continue
		}
		if body := strings.TrimSpace(a.Body); body != "" && len([]rune(body)) < 2 {
			continue
		}
		if a.At.Before(createdAt) {
			continue
		}
		if first.IsZero() || a.At.Before(first) {
			first = a.At
		}
	}
	if first.IsZero() {
		return 0
	}
	return int64(first.Sub(createdAt) / time.Second)
}
