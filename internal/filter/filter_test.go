package filter

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultsync/internal/config"
	"vaultsync/internal/fs"
)

func entities(keys ...string) []fs.Entity {
	out := make([]fs.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, fs.Entity{Key: k, ModifiedTimeClient: time.UnixMilli(1000)})
	}
	return out
}

func keys(es []fs.Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Key)
	}
	sort.Strings(out)
	return out
}

func TestTypeFilters(t *testing.T) {
	in := entities("a.md", "b.PNG", "c.mp3", "d.mkv", "e.pdf", "f.zip", "img/", "g.canvas")

	assert.Equal(t, []string{"a.md", "c.mp3", "d.mkv", "e.pdf", "f.zip", "g.canvas", "img/"}, keys(Image(false).Apply(in)))
	assert.Len(t, Image(true).Apply(in), len(in))
	assert.NotContains(t, keys(Audio(false).Apply(in)), "c.mp3")
	assert.NotContains(t, keys(Video(false).Apply(in)), "d.mkv")
	assert.NotContains(t, keys(PDF(false).Apply(in)), "e.pdf")

	// 文件夹和笔记文件永远不是 "其他"
	assert.Equal(t, []string{"a.md", "b.PNG", "c.mp3", "d.mkv", "e.pdf", "g.canvas", "img/"}, keys(Other(false).Apply(in)))
}

func TestExcludedFolders(t *testing.T) {
	in := entities("Archive/", "Archive/old.md", "Archived.md", "notes/a.md")

	assert.Equal(t, []string{"Archived.md", "notes/a.md"}, keys(ExcludedFolders([]string{"Archive"}).Apply(in)))
	assert.Len(t, ExcludedFolders(nil).Apply(in), 4)
}

func TestDotfiles(t *testing.T) {
	in := entities(".obsidian/", ".obsidian/app.json", ".git/", ".git/HEAD", "notes/.DS_Store", "notes/a.md", "a/.trash/b.md")

	assert.Equal(t, []string{".obsidian/", ".obsidian/app.json", "notes/a.md"}, keys(Dotfiles(".obsidian").Apply(in)))
}

func TestGlob(t *testing.T) {
	in := entities("Templates/", "Templates/day.md", "notes/a.md", "notes/b.tmp", "c.tmp")

	g, err := Glob([]string{"**/*.tmp", "Templates", "Templates/**"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/a.md"}, keys(g.Apply(in)))

	_, err = Glob([]string{"[unclosed"})
	assert.Error(t, err)

	g, err = Glob(nil)
	require.NoError(t, err)
	assert.True(t, g.Allow)
}

func TestVaultFilters(t *testing.T) {
	in := entities(
		".obsidian/app.json",
		".obsidian/appearance.json",
		".obsidian/hotkeys.json",
		".obsidian/core-plugins.json",
		".obsidian/community-plugins.json",
		".obsidian/graph.json",
		".obsidian/themes/Minimal/theme.css",
		".obsidian/snippets/wide.css",
		".obsidian/plugins/dataview/data.json",
		".obsidian/plugins/",
		"notes/app.json",
	)

	all := config.Default().SelectiveSync.Vault
	assert.Len(t, VaultFilters(".obsidian", all).Apply(in), len(in))

	none := config.VaultConfig{}
	assert.Equal(t, []string{".obsidian/plugins/", "notes/app.json"}, keys(VaultFilters(".obsidian", none).Apply(in)))

	onlyCore := all
	onlyCore.CorePluginSettings = false
	got := keys(VaultFilters(".obsidian/", onlyCore).Apply(in))
	assert.NotContains(t, got, ".obsidian/graph.json")
	assert.Contains(t, got, ".obsidian/app.json")
	assert.Contains(t, got, ".obsidian/plugins/dataview/data.json")
}

func TestNew(t *testing.T) {
	cfg := config.Default().SelectiveSync
	cfg.ImageFiles = false
	cfg.ExcludedFolders = []string{"private"}
	cfg.IgnorePatterns = []string{"**/*.bak"}

	chain, err := New(cfg)
	require.NoError(t, err)

	in := entities("a.md", "b.png", "private/c.md", "d.bak", ".git/config", ".obsidian/app.json")
	assert.Equal(t, []string{".obsidian/app.json", "a.md"}, keys(chain.Apply(in)))

	cfg.IgnorePatterns = []string{"["}
	_, err = New(cfg)
	assert.Error(t, err)
}
