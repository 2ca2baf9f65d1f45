package util

import (
	"regexp"
	"testing"
)

func TestNewJobID_Format(t *testing.T) {
	id := NewJobID()
	re := regexp.MustCompile(`^job_[a-z0-9]{12}$`)
	if !re.MatchString(id) {
		t.Fatalf("NewJobID %q does not match job_<token> format", id)
	}
}

func TestNewJobID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewJobID()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id after %d draws: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
