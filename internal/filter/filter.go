// Package filter 实现选择性同步: 在三方对账之前，从本地、云端、上次同步三份列表中剔除不需要同步的实体。
package filter

import (
	"path"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"vaultsync/internal/fs"
)

// Filter 纯函数式的列表过滤
type Filter interface {
	Apply(entities []fs.Entity) []fs.Entity
}

// Chain 按顺序依次应用多个过滤器
type Chain []Filter

func (c Chain) Apply(entities []fs.Entity) []fs.Entity {
	for _, f := range c {
		entities = f.Apply(entities)
	}
	return entities
}

// Predicate 匹配 Match 的实体会被剔除；Allow 为 true 时整个过滤器不生效
type Predicate struct {
	Name  string
	Allow bool
	Match func(e fs.Entity) bool
}

func (p Predicate) Apply(entities []fs.Entity) []fs.Entity {
	if p.Allow || p.Match == nil {
		return entities
	}
	kept := make([]fs.Entity, 0, len(entities))
	for _, e := range entities {
		if !p.Match(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

var (
	imageExtensions = mapset.NewSet(".bmp", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp")
	audioExtensions = mapset.NewSet(".mp3", ".wav", ".m4a", ".3gp", ".flac", ".ogg", ".oga", ".opus")
	videoExtensions = mapset.NewSet(".mp4", ".webm", ".ogv", ".mov", ".mkv")
	pdfExtensions   = mapset.NewSet(".pdf")
	// 笔记本身的文件类型，永远不算 "其他"
	noteExtensions = mapset.NewSet(".md", ".canvas", ".base")
)

func ext(key string) string {
	return strings.ToLower(path.Ext(key))
}

func hasExt(set mapset.Set[string]) func(fs.Entity) bool {
	return func(e fs.Entity) bool {
		return !e.IsFolder() && set.Contains(ext(e.Key))
	}
}

func Image(allow bool) Predicate {
	return Predicate{Name: "image", Allow: allow, Match: hasExt(imageExtensions)}
}

func Audio(allow bool) Predicate {
	return Predicate{Name: "audio", Allow: allow, Match: hasExt(audioExtensions)}
}

func Video(allow bool) Predicate {
	return Predicate{Name: "video", Allow: allow, Match: hasExt(videoExtensions)}
}

func PDF(allow bool) Predicate {
	return Predicate{Name: "pdf", Allow: allow, Match: hasExt(pdfExtensions)}
}

// Other 匹配既不是图片、音频、视频、PDF，也不是笔记文件或文件夹的实体
func Other(allow bool) Predicate {
	known := imageExtensions.Union(audioExtensions).Union(videoExtensions).Union(pdfExtensions).Union(noteExtensions)
	return Predicate{Name: "other", Allow: allow, Match: func(e fs.Entity) bool {
		return !e.IsFolder() && !known.Contains(ext(e.Key))
	}}
}

// ExcludedFolders 剔除位于指定文件夹内 (以及文件夹本身) 的实体
func ExcludedFolders(folders []string) Predicate {
	prefixes := make([]string, 0, len(folders))
	for _, f := range folders {
		f = strings.Trim(f, fs.PathSeparator)
		if f != "" {
			prefixes = append(prefixes, f+fs.PathSeparator)
		}
	}
	return Predicate{Name: "excluded_folders", Allow: len(prefixes) == 0, Match: func(e fs.Entity) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(e.Key, p) || e.Key == strings.TrimSuffix(p, fs.PathSeparator) {
				return true
			}
		}
		return false
	}}
}

// Dotfiles 剔除任意一级以 "." 开头的路径，配置目录本身除外
func Dotfiles(configDir string) Predicate {
	configDir = strings.Trim(configDir, fs.PathSeparator)
	return Predicate{Name: "dotfiles", Match: func(e fs.Entity) bool {
		parts := strings.Split(strings.TrimSuffix(e.Key, fs.PathSeparator), fs.PathSeparator)
		for i, part := range parts {
			if !strings.HasPrefix(part, ".") {
				continue
			}
			if i == 0 && part == configDir {
				continue
			}
			return true
		}
		return false
	}}
}
