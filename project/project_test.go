package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daveroberts0321/flagfilter/audience"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Shop")
	require.NoError(t, Init(dir))

	for _, name := range []string{ConfigFile, "audiences/default.yaml", "README.md", ".gitignore"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.DirExists(t, filepath.Join(dir, "generated", "openapi"))

	config, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(config), "# Shop flagfilter configuration")
	assert.Contains(t, string(config), "postgres://localhost/shop")

	f, err := audience.LoadFile(filepath.Join(dir, "audiences", "default.yaml"))
	require.NoError(t, err)
	assert.Len(t, f.Audiences, 1)
	assert.Len(t, f.Flags, 3)

	err = Init(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestFindAudienceFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.yaml"), "")
	write(t, filepath.Join(dir, "nested", "b.yml"), "")
	write(t, filepath.Join(dir, "notes.txt"), "")
	write(t, filepath.Join(dir, "generated", "c.yaml"), "")
	write(t, filepath.Join(dir, ".git", "d.yaml"), "")
	single := filepath.Join(t.TempDir(), "single.yaml")
	write(t, single, "")

	files, err := FindAudienceFiles(dir, single, filepath.Join(dir, "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "nested", "b.yml"),
		single,
	}, files)

	_, err = FindAudienceFiles(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

const audiencesYAML = `app: shop
audiences:
  - audienceId: testers
    name: Testers
    filter: "user.email in ['qa@shop.local']"
`

const flagsYAML = `app: shop
flags:
  - flagId: maintenance
    name: Maintenance
    type: boolean
    value: false
overrides:
  - overrideId: o1
    flagId: maintenance
    audienceId: testers
    type: boolean
    value: true
`

func TestBuildAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "audiences.yaml"), audiencesYAML)
	write(t, filepath.Join(dir, "flags.yaml"), flagsYAML)

	f, err := Build(dir)
	require.NoError(t, err)
	require.Len(t, f.Audiences, 1)
	require.Len(t, f.Overrides, 1)
	assert.Equal(t, "shop", f.Overrides[0].AppID)

	problems, err := Check(dir)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "flags.yaml"), flagsYAML)
	_, err := Build(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, audience.ErrNotFound)

	bad := t.TempDir()
	write(t, filepath.Join(bad, "broken.yaml"), "audiences: [")
	_, err = Build(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "broken.yaml"), "unknown: true\n")
	write(t, filepath.Join(dir, "filters.yaml"), `app: shop
audiences:
  - audienceId: good
    name: Good
    filter: "a == 1"
  - audienceId: bad
    name: Bad
    filter: "a << 1"
`)
	write(t, filepath.Join(dir, "flags.yaml"), flagsYAML)

	problems, err := Check(dir)
	require.NoError(t, err)
	require.Len(t, problems, 3)

	var lines []string
	for _, p := range problems {
		lines = append(lines, p.String())
	}

	assert.Equal(t, filepath.Join(dir, "broken.yaml"), problems[0].File)
	assert.Contains(t, lines[0], "failed to decode audiences")

	assert.Equal(t, "bad", problems[1].AudienceID)
	assert.True(t, strings.HasPrefix(lines[1], filepath.Join(dir, "filters.yaml")+`: audience "bad": invalid filter: `), lines[1])

	assert.Empty(t, problems[2].File)
	assert.ErrorIs(t, problems[2].Err, audience.ErrNotFound)
	assert.Contains(t, lines[2], `override "o1"`)
}
