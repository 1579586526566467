package version

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestVersion_DefaultValues(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
}

func TestDescribe(t *testing.T) {
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() {
		Version, GitCommit, BuildDate = origVersion, origCommit, origDate
	})

	Version = "1.2.3"
	GitCommit = ""
	BuildDate = ""
	if got := Describe(false); got != "quill 1.2.3" {
		t.Errorf("Describe = %q", got)
	}

	GitCommit = "abc123def456"
	BuildDate = "2024-01-15T10:30:00Z"
	want := "quill 1.2.3 (abc123def456) built 2024-01-15T10:30:00Z"
	if got := Describe(false); got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
}

func TestColored(t *testing.T) {
	origVersion, origNoColor := Version, color.NoColor
	t.Cleanup(func() {
		Version, color.NoColor = origVersion, origNoColor
	})

	color.NoColor = true
	Version = "0.4.1-rc1"
	if got := Colored(); got != "0.4.1-rc1" {
		t.Errorf("Colored without color = %q", got)
	}

	color.NoColor = false
	got := Colored()
	if !strings.Contains(got, "\x1b[") || !strings.HasSuffix(got, "-rc1") {
		t.Errorf("Colored = %q", got)
	}

	Version = "dev"
	if got := Colored(); got != "dev" {
		t.Errorf("Colored(dev) = %q", got)
	}
}
