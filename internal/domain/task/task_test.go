package task

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusOpen, StatusBlocked, true},
		{StatusOpen, StatusDone, true},
		{StatusOpen, StatusCancelled, true},
		{StatusOpen, StatusSnoozed, true},
		{StatusBlocked, StatusInProgress, true},
		{StatusSnoozed, StatusOpen, true},
		{StatusDone, StatusOpen, true},
		{StatusDone, StatusInProgress, false},
		{StatusDone, StatusCancelled, false},
		{StatusCancelled, StatusOpen, false},
		{StatusCancelled, StatusDone, false},
		{StatusOpen, StatusOpen, false},
		{StatusOpen, Status("exploded"), false},
		{Status(""), StatusOpen, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestDedupGroupIDNormalizes(t *testing.T) {
	a := DedupGroupID("Review Contract", "check clauses", "legal")
	b := DedupGroupID("  review   contract ", "Check Clauses", "Legal")
	if a != b {
		t.Fatalf("expected normalized inputs to share a group, got %s and %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16-char group id, got %d", len(a))
	}
}

func TestDedupGroupIDSeparatesContent(t *testing.T) {
	a := DedupGroupID("Review contract", "", "legal")
	b := DedupGroupID("Review contract", "", "sales")
	if a == b {
		t.Fatal("expected different projects to produce different groups")
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusBlocked, StatusInProgress, StatusDone, StatusCancelled, StatusSnoozed} {
		if !s.IsValid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if Status("exploded").IsValid() {
		t.Fatal("expected unknown status to be invalid")
	}
}
