package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// PreviousSyncBucket 上次同步状态表
	PreviousSyncBucket = "PreviousSync"
	// MergeBaseBucket 可合并文件上次同步时的内容，作为三方合并的共同祖先
	MergeBaseBucket = "MergeBase"
)

// DB 封装 BoltDB 实例
type DB struct {
	conn *bbolt.DB
}

// NewBoltDB 初始化并打开数据库
func NewBoltDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Timeout 选项防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开 BoltDB 失败: %w", err)
	}

	// 确保 Bucket 存在
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{PreviousSyncBucket, MergeBaseBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 Bucket 失败: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	return d.conn.Close()
}

// Get 获取单个路径的快照状态，没有记录时返回 nil, nil
func (d *DB) Get(key string) (*FileState, error) {
	var state *FileState
	err := d.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(PreviousSyncBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		state = &FileState{}
		return json.Unmarshal(v, state)
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return state, nil
}

// Put 保存或更新快照状态
func (d *DB) Put(state *FileState) error {
	state.LastSyncTime = time.Now().UnixNano()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}

	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(PreviousSyncBucket)).Put([]byte(state.Key), data)
	})
}

// Delete 删除快照记录以及合并基准 (当路径在两侧都消失时调用)
func (d *DB) Delete(key string) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(PreviousSyncBucket)).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket([]byte(MergeBaseBucket)).Delete([]byte(key))
	})
}

// ListAll 获取所有快照状态
// 在同步开始时调用，用于构建 previousSync 列表
func (d *DB) ListAll() ([]*FileState, error) {
	var result []*FileState

	err := d.conn.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(PreviousSyncBucket)).ForEach(func(k, v []byte) error {
			var state FileState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("解析数据失败 key=%s: %w", string(k), err)
			}
			result = append(result, &state)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Clear 清空所有状态，下次同步将按"首次同步"处理
func (d *DB) Clear() error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{PreviousSyncBucket, MergeBaseBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBase 读取合并基准内容，没有时返回 nil, nil
func (d *DB) GetBase(key string) ([]byte, error) {
	var base []byte
	err := d.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(MergeBaseBucket)).Get([]byte(key))
		if v != nil {
			// bbolt 返回的切片只在事务内有效
			base = append([]byte{}, v...)
		}
		return nil
	})
	return base, err
}

// PutBase 保存合并基准内容
func (d *DB) PutBase(key string, content []byte) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(MergeBaseBucket)).Put([]byte(key), content)
	})
}

// DeleteBase 删除合并基准内容
func (d *DB) DeleteBase(key string) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(MergeBaseBucket)).Delete([]byte(key))
	})
}
