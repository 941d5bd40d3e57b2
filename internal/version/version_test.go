package version

import "testing"

func TestVersionStrings(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "1.2.3", "abc123"
	if got := Full(); got != "gemsync 1.2.3 (abc123)" {
		t.Fatalf("unexpected full version %q", got)
	}
	if got := UserAgent(); got != "gemsync/1.2.3" {
		t.Fatalf("unexpected user agent %q", got)
	}
}
