package sync

import (
	"sort"

	"vaultsync/internal/fs"
)

// DeletePolicy 一侧修改、另一侧删除时的处理方式
type DeletePolicy string

const (
	// DeleteResurrect (默认)：把修改过的一侧重新同步过去，不丢数据
	DeleteResurrect DeletePolicy = "resurrect"
	// DeletePropagate：尊重删除
	DeletePropagate DeletePolicy = "propagate"
)

// HasChanged 判断 current 相对 previous 是否发生变化
// 顺序: 大小 -> 内容标签 (两边都有时) -> 修改时间 (超过容忍度才算变化)
func HasChanged(current, previous fs.Entity) bool {
	// 文件夹不参与内容比较
	if current.IsFolder() || previous.IsFolder() {
		return false
	}
	if current.Size != previous.Size {
		return true
	}
	if current.ContentTag != "" && previous.ContentTag != "" {
		return current.ContentTag != previous.ContentTag
	}

	diff := current.ModTime().Sub(previous.ModTime())
	if diff < 0 {
		diff = -diff
	}
	return diff > MTimeTolerance
}

// Planner 为每个路径决定唯一的操作
type Planner struct {
	Resolver       *Resolver
	DeleteConflict DeletePolicy
}

// Plan 按 key 从长到短 (等长按字典序) 遍历并填充 Action/Changed/Reason
// 只依赖三方状态，对同一个 Plan 重复调用结果不变
func (p *Planner) Plan(plan Plan) Plan {
	keys := make([]string, 0, len(plan))
	for k := range plan {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	// 子路径先于父目录决定；记录规划后仍然存在于某一侧的目录
	keptLocal := make(map[string]bool)
	keptRemote := make(map[string]bool)
	// 本地有任何子路径的目录 (不论规划结果)
	nonEmptyLocal := make(map[string]bool)

	for _, key := range keys {
		m := plan[key]
		p.decide(m)

		if fs.IsFolderKey(key) {
			p.protectFolder(m, keptLocal, keptRemote)
			keepEmptyFolder(m, nonEmptyLocal)
		}

		if m.Local != nil {
			for _, dir := range fs.DirectoryLevels(key) {
				nonEmptyLocal[dir] = true
			}
		}

		if survivesLocally(m) {
			for _, dir := range fs.DirectoryLevels(key) {
				keptLocal[dir] = true
			}
		}
		if survivesRemotely(m) {
			for _, dir := range fs.DirectoryLevels(key) {
				keptRemote[dir] = true
			}
		}
	}
	return plan
}

func (p *Planner) decide(m *MixedEntity) {
	local, remote, prev := m.Local, m.Remote, m.PreviousSync

	switch {
	case local == nil && remote != nil && prev == nil:
		m.Action, m.Changed, m.Reason = ActionDownload, true, "file does not exist locally"

	case local != nil && remote == nil && prev == nil:
		m.Action, m.Changed, m.Reason = ActionUpload, true, "file does not exist remotely"

	case local != nil && remote != nil && prev == nil:
		p.resolve(m, "both exist without previous sync")

	case local == nil && remote == nil && prev != nil:
		m.Action, m.Changed, m.Reason = ActionDeletePreviousSync, false, "does not exist locally or remotely"

	case local != nil && remote == nil && prev != nil:
		if HasChanged(*local, *prev) && p.DeleteConflict != DeletePropagate {
			m.Action, m.Changed, m.Reason = ActionUpload, true, "local modified but remote deleted"
		} else {
			m.Action, m.Changed, m.Reason = ActionDeleteLocal, true, "file deleted remotely"
		}

	case local == nil && remote != nil && prev != nil:
		if HasChanged(*remote, *prev) && p.DeleteConflict != DeletePropagate {
			m.Action, m.Changed, m.Reason = ActionDownload, true, "remote modified but local deleted"
		} else {
			m.Action, m.Changed, m.Reason = ActionDeleteRemote, true, "file deleted locally"
		}

	case local != nil && remote != nil && prev != nil:
		localChanged := HasChanged(*local, *prev)
		remoteChanged := HasChanged(*remote, *prev)
		switch {
		case !localChanged && !remoteChanged:
			m.Action, m.Changed, m.Reason = ActionNoOp, false, "not modified"
		case localChanged && !remoteChanged:
			m.Action, m.Changed, m.Reason = ActionUpload, true, "local changed"
		case !localChanged && remoteChanged:
			m.Action, m.Changed, m.Reason = ActionDownload, true, "remote changed"
		default:
			p.resolve(m, "both changed")
		}

	default:
		// 三方都不存在，只可能来自手工构造的 Plan
		m.Action, m.Changed, m.Reason = ActionNoOp, false, "no facet"
	}
}

func (p *Planner) resolve(m *MixedEntity, why string) {
	resolver := p.Resolver
	if resolver == nil {
		resolver = NewResolver(StrategyLastWriteWins, nil)
	}
	action, reason := resolver.Resolve(*m.Local, *m.Remote)
	m.Action, m.Changed, m.Reason = action, action != ActionNoOp, why+": "+reason
}

// protectFolder 目录里还有要保留的内容时，不删除目录，而是把它补到另一侧
func (p *Planner) protectFolder(m *MixedEntity, keptLocal, keptRemote map[string]bool) {
	switch {
	case m.Action == ActionDeleteLocal && keptLocal[m.Key]:
		m.Action, m.Changed, m.Reason = ActionUpload, true, "folder deleted remotely but still has local content"
	case m.Action == ActionDeleteRemote && keptRemote[m.Key]:
		m.Action, m.Changed, m.Reason = ActionDownload, true, "folder deleted locally but still has remote content"
	}
}

// keepEmptyFolder 云端不能列出空目录：上次同步记录是合成的目录、本地目录又是空的，
// 云端缺失并不代表被删除
func keepEmptyFolder(m *MixedEntity, nonEmptyLocal map[string]bool) {
	if m.Action != ActionDeleteLocal || m.Remote != nil || m.PreviousSync == nil {
		return
	}
	if m.PreviousSync.SynthesizedFolder && !nonEmptyLocal[m.Key] {
		m.Action, m.Changed, m.Reason = ActionNoOp, false, "empty folder is not listed remotely"
	}
}

// survivesLocally 执行完 m 之后本地是否仍然存在该路径
func survivesLocally(m *MixedEntity) bool {
	switch m.Action {
	case ActionDeleteLocal, ActionDeletePreviousSync:
		return false
	case ActionDownload, ActionMerge, ActionCreateConflictFile:
		return true
	}
	return m.Local != nil
}

func survivesRemotely(m *MixedEntity) bool {
	switch m.Action {
	case ActionDeleteRemote, ActionDeletePreviousSync:
		return false
	case ActionUpload, ActionMerge, ActionCreateConflictFile:
		return true
	}
	return m.Remote != nil
}
