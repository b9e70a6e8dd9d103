package database

import (
	"time"

	"vaultsync/internal/fs"
)

// FileState 代表一个路径在上次同步完成时的快照状态 (previousSync)
// 存入数据库时会序列化为 JSON
type FileState struct {
	// 同步成功后目标侧报告的实体快照，Key 同时作为数据库的 Key
	fs.Entity

	// 合并结果不干净 (有补丁没有完全应用)，需要用户检查
	MergeUnclean bool `json:"merge_unclean,omitempty"`

	// 最后一次同步的时间 (Unix Nano，用于调试或过期策略)
	LastSyncTime int64 `json:"last_sync_time"`
}

// LastSyncAsTime 辅助方法：转为 Go Time 对象
func (f *FileState) LastSyncAsTime() time.Time {
	return time.Unix(0, f.LastSyncTime)
}
