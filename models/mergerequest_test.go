package models

import "testing"

func TestNormalizeMRState(t *testing.T) {
	tests := []struct {
		raw    string
		merged bool
		want   MRState
	}{
		{"open", false, MROpen},
		{"opened", false, MROpen},
		{"active", false, MROpen},
		{"closed", false, MRClosed},
		{"declined", false, MRClosed},
		{"abandoned", false, MRClosed},
		{"SUPERSEDED", false, MRClosed},
		{"merged", false, MRMerged},
		{"completed", false, MRMerged},
		{"closed", true, MRMerged}, // GitHub: merged PRs report closed
		{"weird-new-state", false, MROpen},
	}
	for _, tt := range tests {
		if got := NormalizeMRState(tt.raw, tt.merged); got != tt.want {
			t.Errorf("NormalizeMRState(%q, %v) = %s, want %s", tt.raw, tt.merged, got, tt.want)
		}
	}
}

func TestReviewerList(t *testing.T) {
	mr := MergeRequest{Reviewers: "bob, carol ,,dave"}
	got := mr.ReviewerList()
	want := []string{"bob", "carol", "dave"}
	if len(got) != len(want) {
		t.Fatalf("ReviewerList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ReviewerList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if list := (&MergeRequest{}).ReviewerList(); list != nil {
		t.Errorf("empty reviewers should yield nil, got %v", list)
	}
}
