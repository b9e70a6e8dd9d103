package filter

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"vaultsync/internal/fs"
)

// Glob 剔除匹配任一 doublestar 模式的实体，例如 "**/*.tmp" 或 "Templates/**"
// 文件夹按去掉结尾 "/" 后的路径匹配
func Glob(patterns []string) (Predicate, error) {
	valid := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return Predicate{}, fmt.Errorf("invalid ignore pattern %q", p)
		}
		valid = append(valid, p)
	}

	return Predicate{Name: "ignore_patterns", Allow: len(valid) == 0, Match: func(e fs.Entity) bool {
		target := strings.TrimSuffix(e.Key, fs.PathSeparator)
		for _, p := range valid {
			if ok, _ := doublestar.Match(p, target); ok {
				return true
			}
		}
		return false
	}}, nil
}
