package search

import "testing"

func TestSanitizeResultsHidesDraftAnnouncements(t *testing.T) {
	results := []Result{
		{Type: ResultAnnouncement, ID: "a1", Visibility: "published"},
		{Type: ResultAnnouncement, ID: "a2", Visibility: "draft"},
		{Type: ResultTask, ID: "t1"},
	}

	got := sanitizeResults(results, "member")
	if len(got) != 2 {
		t.Fatalf("expected 2 results for member, got %d", len(got))
	}
	for _, r := range got {
		if r.ID == "a2" {
			t.Fatal("draft announcement should be hidden from members")
		}
	}

	got = sanitizeResults(results, "admin")
	if len(got) != 3 {
		t.Fatalf("expected admins to see all 3 results, got %d", len(got))
	}
}

func TestSanitizeResultsRespectsDocViewerList(t *testing.T) {
	results := []Result{
		{Type: ResultDoc, ID: "d1", Visibility: ""},
		{Type: ResultDoc, ID: "d2", Visibility: "domain-lead,admin"},
	}

	got := sanitizeResults(results, "member")
	if len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("member should only see unrestricted doc, got %#v", got)
	}

	got = sanitizeResults(results, "domain-lead")
	if len(got) != 2 {
		t.Fatalf("domain-lead should see both docs, got %d", len(got))
	}
}

func TestRoleCanView(t *testing.T) {
	tests := []struct {
		viewableBy string
		role       string
		want       bool
	}{
		{"", "member", true},
		{"admin", "admin", true},
		{"admin", "member", false},
		{"admin, domain-lead", "domain-lead", true},
	}
	for _, tt := range tests {
		if got := roleCanView(tt.viewableBy, tt.role); got != tt.want {
			t.Errorf("roleCanView(%q, %q) = %v, want %v", tt.viewableBy, tt.role, got, tt.want)
		}
	}
}

func TestJoinRoles(t *testing.T) {
	if got := JoinRoles([]string{"admin", "member"}); got != "admin,member" {
		t.Errorf("JoinRoles = %q", got)
	}
	if got := JoinRoles(nil); got != "" {
		t.Errorf("JoinRoles(nil) = %q, want empty", got)
	}
}
