package sync

import (
	"fmt"

	"vaultsync/internal/fs"
)

// Reconcile 将本地、云端、上次同步三份 (已过滤的) 列表合并为 path -> MixedEntity
// 任意一个非文件夹实体缺少修改时间都会让整个对账失败
func Reconcile(local, remote, previous []fs.Entity) (Plan, error) {
	plan := make(Plan, len(local)+len(remote))

	sides := []struct {
		name     string
		entities []fs.Entity
		slot     func(m *MixedEntity, e *fs.Entity)
	}{
		{"remote", remote, func(m *MixedEntity, e *fs.Entity) { m.Remote = e }},
		{"local", local, func(m *MixedEntity, e *fs.Entity) { m.Local = e }},
		{"previous", previous, func(m *MixedEntity, e *fs.Entity) { m.PreviousSync = e }},
	}

	for _, side := range sides {
		for _, raw := range side.entities {
			e, err := fs.NewEntity(raw.Normalize())
			if err != nil {
				return nil, fmt.Errorf("reconcile %s: %w", side.name, err)
			}

			m, ok := plan[e.Key]
			if !ok {
				m = &MixedEntity{Key: e.Key}
				plan[e.Key] = m
			}
			side.slot(m, &e)
		}
	}
	return plan, nil
}
