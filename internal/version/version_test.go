package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, part := range []string{"genrouter", Version, Commit, Date} {
		if !strings.Contains(info, part) {
			t.Errorf("Info() = %q, missing %q", info, part)
		}
	}
}
