package txstore

import (
	"context"
	"sync"
	"time"
)

type memTx struct {
	meta    Meta
	chunks  map[uint64]struct{}
	expires time.Time

	active        int64
	activeExpires time.Time
}

// MemoryStore 进程内事务存储，用于测试和单进程开发环境。过期在访问时惰性判断
type MemoryStore struct {
	mu   sync.Mutex
	txs  map[string]*memTx
	opts Options
	now  func() time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		txs:  make(map[string]*memTx),
		opts: opts,
		now:  time.Now,
	}
}

// lookup 调用方需持有锁
func (s *MemoryStore) lookup(id string) (*memTx, bool) {
	tx, ok := s.txs[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(tx.expires) {
		delete(s.txs, id)
		return nil, false
	}
	return tx, true
}

func (s *MemoryStore) Create(_ context.Context, id, hash string, size uint64, mode Mode) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(id); ok {
		return nil, ErrExists
	}
	now := s.now()
	meta := newMeta(s.opts, id, hash, size, mode, now)
	s.txs[id] = &memTx{
		meta:    *meta,
		chunks:  make(map[uint64]struct{}),
		expires: now.Add(s.opts.TTL),
	}
	return meta, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	meta := tx.meta
	return &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.txs, id)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (*Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.txs, id)
	meta := tx.meta
	return &meta, nil
}

func (s *MemoryStore) SetChunk(_ context.Context, id string, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	tx.chunks[index] = struct{}{}
	tx.expires = s.now().Add(s.opts.TTL)
	return nil
}

func (s *MemoryStore) IsChunkSet(_ context.Context, id string, index uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return false, nil
	}
	_, set := tx.chunks[index]
	return set, nil
}

func (s *MemoryStore) CountSetChunks(_ context.Context, id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return 0, nil
	}
	return uint64(len(tx.chunks)), nil
}

func (s *MemoryStore) FirstUnsetChunk(_ context.Context, id string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return 0, false, ErrNotFound
	}
	for i := uint64(0); i < tx.meta.TotalChunks; i++ {
		if _, set := tx.chunks[i]; !set {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) MissingChunks(_ context.Context, id string) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return missingFrom(tx.meta.TotalChunks, func(i uint64) bool {
		_, set := tx.chunks[i]
		return set
	}), nil
}

func (s *MemoryStore) TryAcquireSlot(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		// 与 Redis 行为一致：计数器独立于元数据存在，这里没有元数据就没有计数器可挂
		return true, nil
	}
	now := s.now()
	if !now.Before(tx.activeExpires) {
		tx.active = 0
	}
	if tx.active+1 > s.opts.MaxConcurrentUploads {
		return false, nil
	}
	tx.active++
	tx.activeExpires = now.Add(s.opts.SlotTTL)
	return true, nil
}

func (s *MemoryStore) ReleaseSlot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.lookup(id)
	if !ok {
		return nil
	}
	if tx.active > 0 {
		tx.active--
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
