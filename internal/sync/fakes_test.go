package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"vaultsync/internal/database"
	"vaultsync/internal/fs"
)

type memFile struct {
	data   []byte
	mtime  time.Time
	ctime  time.Time
	folder bool
}

// memFS 内存文件系统；tags 为 true 时像对象存储一样报告 ETag 和服务端时间
type memFS struct {
	mu          gosync.Mutex
	name        string
	files       map[string]*memFile
	tags        bool
	serverTime  time.Time
	failOn      map[string]error
	unreachable bool
	ops         []string
}

func newMemFS(name string, tags bool) *memFS {
	return &memFS{
		name:       name,
		files:      make(map[string]*memFile),
		tags:       tags,
		serverTime: time.UnixMilli(1_700_000_000_000),
		failOn:     make(map[string]error),
	}
}

func (m *memFS) put(key, content string, mtime time.Time) {
	if fs.IsFolderKey(key) {
		m.files[key] = &memFile{mtime: mtime, folder: true}
		return
	}
	m.files[key] = &memFile{data: []byte(content), mtime: mtime}
}

func (m *memFS) content(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[key]
	if !ok {
		return "", false
	}
	return string(f.data), true
}

func (m *memFS) opLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *memFS) entity(key string, f *memFile) fs.Entity {
	e := fs.Entity{
		Key:                key,
		Size:               int64(len(f.data)),
		ModifiedTimeClient: f.mtime,
		CreatedTimeClient:  f.ctime,
	}
	if m.tags {
		e.ModifiedTimeServer = m.serverTime
		if !f.folder {
			sum := md5.Sum(f.data)
			e.ContentTag = hex.EncodeToString(sum[:])
		}
	}
	return e
}

func (m *memFS) fail(op, key string) error {
	if err, ok := m.failOn[key]; ok {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return nil
}

func (m *memFS) Root() string { return m.name }

func (m *memFS) Walk(_ context.Context) ([]fs.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]fs.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.entity(k, m.files[k]))
	}
	return out, nil
}

func (m *memFS) WalkPartial(ctx context.Context) ([]fs.Entity, error) {
	return m.Walk(ctx)
}

func (m *memFS) Stat(_ context.Context, key string) (fs.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[key]
	if !ok {
		return fs.Entity{}, fs.ErrNotExist
	}
	return m.entity(key, f), nil
}

func (m *memFS) Mkdir(_ context.Context, key string, mtime, ctime time.Time) (fs.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "mkdir:"+key)
	if err := m.fail("mkdir", key); err != nil {
		return fs.Entity{}, err
	}
	f := &memFile{mtime: mtime, ctime: ctime, folder: true}
	m.files[key] = f
	return m.entity(key, f), nil
}

func (m *memFS) Write(_ context.Context, key string, data []byte, mtime, ctime time.Time) (fs.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "write:"+key)
	if err := m.fail("write", key); err != nil {
		return fs.Entity{}, err
	}
	f := &memFile{data: append([]byte(nil), data...), mtime: mtime, ctime: ctime}
	m.files[key] = f
	return m.entity(key, f), nil
}

func (m *memFS) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("read", key); err != nil {
		return nil, err
	}
	f, ok := m.files[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), f.data...), nil
}

func (m *memFS) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "remove:"+key)
	if err := m.fail("remove", key); err != nil {
		return err
	}
	for k := range m.files {
		if k == key || (fs.IsFolderKey(key) && strings.HasPrefix(k, key)) {
			delete(m.files, k)
		}
	}
	return nil
}

func (m *memFS) TestConnection(_ context.Context) (bool, error) {
	if m.unreachable {
		return false, errors.New("connection refused")
	}
	return true, nil
}

// memStore 内存中的 StateStore
type memStore struct {
	mu     gosync.Mutex
	states map[string]*database.FileState
	bases  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		states: make(map[string]*database.FileState),
		bases:  make(map[string][]byte),
	}
}

func (s *memStore) ListAll() ([]*database.FileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*database.FileState, 0, len(s.states))
	for _, st := range s.states {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) Put(state *database.FileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.Key] = &cp
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	delete(s.bases, key)
	return nil
}

func (s *memStore) GetBase(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bases[key], nil
}

func (s *memStore) PutBase(key string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases[key] = append([]byte(nil), content...)
	return nil
}

func (s *memStore) get(key string) *database.FileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[key]
}

func file(key string, size int64, mtimeMillis int64) *fs.Entity {
	return &fs.Entity{Key: key, Size: size, ModifiedTimeClient: time.UnixMilli(mtimeMillis)}
}

func folder(key string) *fs.Entity {
	return &fs.Entity{Key: key}
}
