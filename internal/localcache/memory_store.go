package localcache

import (
	"context"
	"sync"
)

// MemoryStore はプロセス内メモリに保持するStore実装。
// REDIS_URL未設定時およびテストで使用する。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func memoryKey(clientID, key string) string {
	return clientID + ":" + key
}

// Get は値を取得する。
func (s *MemoryStore) Get(_ context.Context, clientID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[memoryKey(clientID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set は値を保存する。
func (s *MemoryStore) Set(_ context.Context, clientID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[memoryKey(clientID, key)] = append([]byte(nil), value...)
	return nil
}

// Remove は値を削除する。
func (s *MemoryStore) Remove(_ context.Context, clientID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, memoryKey(clientID, key))
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
