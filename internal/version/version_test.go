package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	result := String()

	if !strings.HasPrefix(result, "tutor version ") {
		t.Errorf("String() = %q, should start with 'tutor version'", result)
	}
	for _, part := range []string{Version, "commit " + Commit, "built " + BuildTime} {
		if !strings.Contains(result, part) {
			t.Errorf("String() = %q, should contain %q", result, part)
		}
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "academia-tutor/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestDefaultValues(t *testing.T) {
	if Version != "dev" || Commit != "none" || BuildTime != "unknown" {
		t.Errorf("defaults = %q %q %q", Version, Commit, BuildTime)
	}
}
