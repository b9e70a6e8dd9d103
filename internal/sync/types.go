package sync

import (
	"sort"

	"vaultsync/internal/fs"
)

// Action 定义同步操作类型
type Action string

const (
	ActionNoOp               Action = "no_op"                // 忽略 (两边一致)
	ActionUpload             Action = "upload"               // 上传 (本地 -> 云端)
	ActionDownload           Action = "download"             // 下载 (云端 -> 本地)
	ActionDeleteLocal        Action = "delete_local"         // 删除本地文件
	ActionDeleteRemote       Action = "delete_remote"        // 删除云端文件
	ActionDeletePreviousSync Action = "delete_previous_sync" // 两边都已删除，只清理记录
	ActionConflict           Action = "conflict"             // 冲突，规划时总会被细化为具体操作
	ActionMerge              Action = "merge"                // 三方合并
	ActionCreateConflictFile Action = "create_conflict_file" // 云端版本另存为冲突文件，本地版本上传
)

// IsCreation 创建类操作按深度从浅到深执行，其余按从深到浅
func (a Action) IsCreation() bool {
	switch a {
	case ActionUpload, ActionDownload, ActionMerge, ActionCreateConflictFile:
		return true
	}
	return false
}

// MixedEntity 同一路径在三方的状态，以及规划出的操作
// 每次同步都重新构建，从不持久化
type MixedEntity struct {
	Key          string
	Local        *fs.Entity
	Remote       *fs.Entity
	PreviousSync *fs.Entity

	Action  Action
	Changed bool
	Reason  string
}

// Plan 路径 -> MixedEntity
type Plan map[string]*MixedEntity

// Keys 按 key 排序，用于日志和测试输出稳定
func (p Plan) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary 统计每种操作的数量
func (p Plan) Summary() map[Action]int {
	out := make(map[Action]int)
	for _, m := range p {
		out[m.Action]++
	}
	return out
}

// Pending 需要实际执行的条目数 (no_op 除外)
func (p Plan) Pending() int {
	n := 0
	for _, m := range p {
		if m.Action != ActionNoOp {
			n++
		}
	}
	return n
}
