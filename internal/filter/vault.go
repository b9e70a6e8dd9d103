package filter

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"vaultsync/internal/config"
	"vaultsync/internal/fs"
)

// 配置目录下有专门开关的设置文件
const (
	mainSettingsFile     = "app.json"
	appearanceFile       = "appearance.json"
	hotkeysFile          = "hotkeys.json"
	corePluginsFile      = "core-plugins.json"
	communityPluginsFile = "community-plugins.json"
	communityPluginsDir  = "plugins/"
	themesDir            = "themes/"
	snippetsDir          = "snippets/"
)

func configFile(configDir, name string, allow bool, filterName string) Predicate {
	key := configDir + fs.PathSeparator + name
	return Predicate{Name: filterName, Allow: allow, Match: func(e fs.Entity) bool {
		return e.Key == key
	}}
}

// VaultFilters 返回配置目录相关的全部过滤器
func VaultFilters(configDir string, cfg config.VaultConfig) Chain {
	configDir = strings.Trim(configDir, fs.PathSeparator)
	root := configDir + fs.PathSeparator

	// 这些文件由各自的开关控制，不算作核心插件设置
	dedicated := mapset.NewSet(
		root+mainSettingsFile,
		root+appearanceFile,
		root+hotkeysFile,
		root+corePluginsFile,
		root+communityPluginsFile,
	)

	return Chain{
		configFile(configDir, mainSettingsFile, cfg.MainSettings, "vault_main_settings"),
		configFile(configDir, appearanceFile, cfg.Appearance, "vault_appearance"),
		configFile(configDir, hotkeysFile, cfg.Hotkeys, "vault_hotkeys"),
		configFile(configDir, corePluginsFile, cfg.ActiveCorePlugins, "vault_active_core_plugins"),
		configFile(configDir, communityPluginsFile, cfg.ActiveCommunityPlugins, "vault_active_community_plugins"),
		Predicate{Name: "vault_themes", Allow: cfg.Themes, Match: func(e fs.Entity) bool {
			return strings.HasPrefix(e.Key, root+themesDir) || strings.HasPrefix(e.Key, root+snippetsDir)
		}},
		// 配置目录根下的其余 json 文件
		Predicate{Name: "vault_core_plugin_settings", Allow: cfg.CorePluginSettings, Match: func(e fs.Entity) bool {
			rest, ok := strings.CutPrefix(e.Key, root)
			if !ok || strings.Contains(rest, fs.PathSeparator) || dedicated.Contains(e.Key) {
				return false
			}
			return strings.HasSuffix(rest, ".json")
		}},
		Predicate{Name: "vault_community_plugin_settings", Allow: cfg.CommunityPluginSettings, Match: func(e fs.Entity) bool {
			rest, ok := strings.CutPrefix(e.Key, root+communityPluginsDir)
			return ok && rest != ""
		}},
	}
}

// New 根据选择性同步配置构建完整的过滤链
func New(cfg config.SelectiveSyncConfig) (Chain, error) {
	glob, err := Glob(cfg.IgnorePatterns)
	if err != nil {
		return nil, err
	}

	chain := Chain{
		Image(cfg.ImageFiles),
		Audio(cfg.AudioFiles),
		Video(cfg.VideoFiles),
		PDF(cfg.PDFFiles),
		Other(cfg.OtherFiles),
		ExcludedFolders(cfg.ExcludedFolders),
		Dotfiles(cfg.ConfigDir),
		glob,
	}
	return append(chain, VaultFilters(cfg.ConfigDir, cfg.Vault)...), nil
}
