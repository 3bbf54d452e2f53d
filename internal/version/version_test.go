package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stamp overrides the link-time variables for one test.
func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
	Version, Commit, Date = version, commit, date
}

func TestUnstampedBuild(t *testing.T) {
	b := Get()
	assert.Equal(t, "dev", b.Version)
	assert.Equal(t, "unknown", b.Commit)
	assert.Equal(t, "unknown", b.Date)
	assert.Equal(t, "callbridge dev (commit: unknown, built: unknown, "+runtime.GOOS+"/"+runtime.GOARCH+")", Info())
}

func TestStampedBuild(t *testing.T) {
	stamp(t, "1.4.0", "9f2c1e07d3aa", "2026-10-01")

	info := Info()
	assert.Contains(t, info, "callbridge 1.4.0")
	assert.Contains(t, info, "commit: 9f2c1e0")
	assert.NotContains(t, info, "9f2c1e07d3aa")
	assert.Contains(t, info, "built: 2026-10-01")
}

func TestBuildJSON(t *testing.T) {
	stamp(t, "1.4.0", "9f2c1e07d3aa", "2026-10-01")

	data, err := json.Marshal(Get())
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "9f2c1e0", got["commit"])
	assert.Equal(t, runtime.Version(), got["go"])
	assert.Equal(t, runtime.GOARCH, got["arch"])
}

func TestShortCommit(t *testing.T) {
	for in, want := range map[string]string{
		"":         "",
		"abc":      "abc",
		"1234567":  "1234567",
		"12345678": "1234567",
	} {
		assert.Equal(t, want, short(in), "short(%q)", in)
	}
}
