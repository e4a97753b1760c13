package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	data []byte
	mod  time.Time
}

// Memory：进程内存存储，用于测试与试运行
type Memory struct {
	mu   sync.RWMutex
	objs map[string]memEntry
}

// NewMemory：创建内存存储
func NewMemory() *Memory { return &Memory{objs: make(map[string]memEntry)} }

func (s *Memory) Driver() string { return "memory" }

func (s *Memory) Put(_ context.Context, key string, data []byte) error {
	if _, err := sanitizeKey(key); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.objs[key] = memEntry{data: cp, mod: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(e.data))
	copy(cp, e.data)
	return cp, nil
}

func (s *Memory) Stat(_ context.Context, key string) (Info, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{Key: key, Size: int64(len(e.data)), LastModified: e.mod}, nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objs, key)
	s.mu.Unlock()
	return nil
}

// Keys：按前缀列出键（有序）
func (s *Memory) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
