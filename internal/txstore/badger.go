package txstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// 乐观事务冲突时的重试次数
const badgerConflictRetries = 16

// BadgerStore 嵌入式事务存储，单机部署不需要 Redis。
//
// 键布局：
//
//	upload/<id>/meta            CBOR 元数据
//	upload/<id>/active          并发计数（uint64 大端）
//	upload/<id>/chunks          分片位图，第 i 位表示分片 i 已写入
//
// 位图与元数据共用一个 TTL，每次写分片一起续期。位序与 Redis SETBIT 相同，
// 第 0 位是首字节的最高位。
type BadgerStore struct {
	db   *badger.DB
	opts Options
}

func NewBadgerStore(db *badger.DB, opts Options) *BadgerStore {
	return &BadgerStore{db: db, opts: opts}
}

func txPrefix(id string) []byte        { return []byte("upload/" + id + "/") }
func badgerMetaKey(id string) []byte   { return []byte("upload/" + id + "/meta") }
func badgerActiveKey(id string) []byte { return []byte("upload/" + id + "/active") }
func badgerChunksKey(id string) []byte { return []byte("upload/" + id + "/chunks") }

// update 在冲突时重试整个读改写过程
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerConflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readMeta(txn *badger.Txn, id string) (*Meta, error) {
	item, err := txn.Get(badgerMetaKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeMeta(data)
}

func (s *BadgerStore) Create(ctx context.Context, id, hash string, size uint64, mode Mode) (*Meta, error) {
	meta := newMeta(s.opts, id, hash, size, mode, time.Now())
	data, err := encodeMeta(meta)
	if err != nil {
		return nil, err
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerMetaKey(id)); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(badgerMetaKey(id), data).WithTTL(s.opts.TTL))
	})
	if errors.Is(err, ErrExists) {
		return nil, ErrExists
	}
	if err != nil {
		return nil, fmt.Errorf("保存事务失败: %w", err)
	}
	return meta, nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Meta, error) {
	var meta *Meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = readMeta(txn, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取事务失败: %w", err)
	}
	return meta, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return deleteTx(txn, id)
	}); err != nil {
		return fmt.Errorf("删除事务失败: %w", err)
	}
	return nil
}

func (s *BadgerStore) Take(ctx context.Context, id string) (*Meta, error) {
	var meta *Meta
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		if meta, err = readMeta(txn, id); err != nil {
			return err
		}
		return deleteTx(txn, id)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("取出事务失败: %w", err)
	}
	return meta, nil
}

// deleteTx 删除事务前缀下的所有键
func deleteTx(txn *badger.Txn, id string) error {
	prefix := txPrefix(id)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	var keys [][]byte
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// bitmap 分片位图，越界的位视为未设置
type bitmap []byte

func (b bitmap) isSet(i uint64) bool {
	if i/8 >= uint64(len(b)) {
		return false
	}
	return b[i/8]&(0x80>>(i%8)) != 0
}

func (b bitmap) withSet(i uint64) bitmap {
	if need := i/8 + 1; need > uint64(len(b)) {
		grown := make(bitmap, need)
		copy(grown, b)
		b = grown
	}
	b[i/8] |= 0x80 >> (i % 8)
	return b
}

func readBitmap(txn *badger.Txn, id string) (bitmap, error) {
	item, err := txn.Get(badgerChunksKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// SetChunk 元数据和位图在同一个事务里以新的 TTL 重写，已写入的分片与事务同生命周期
func (s *BadgerStore) SetChunk(ctx context.Context, id string, index uint64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		meta, err := readMeta(txn, id)
		if err != nil {
			return err
		}
		data, err := encodeMeta(meta)
		if err != nil {
			return err
		}
		set, err := readBitmap(txn, id)
		if err != nil {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(badgerMetaKey(id), data).WithTTL(s.opts.TTL)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(badgerChunksKey(id), set.withSet(index)).WithTTL(s.opts.TTL))
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("标记分片失败: %w", err)
	}
	return nil
}

// view 读取元数据和位图，事务不存在时返回 ErrNotFound
func (s *BadgerStore) view(id string) (*Meta, bitmap, error) {
	var (
		meta *Meta
		set  bitmap
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if meta, err = readMeta(txn, id); err != nil {
			return err
		}
		set, err = readBitmap(txn, id)
		return err
	})
	return meta, set, err
}

func (s *BadgerStore) IsChunkSet(_ context.Context, id string, index uint64) (bool, error) {
	_, set, err := s.view(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取分片状态失败: %w", err)
	}
	return set.isSet(index), nil
}

func (s *BadgerStore) CountSetChunks(_ context.Context, id string) (uint64, error) {
	_, set, err := s.view(id)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("统计分片失败: %w", err)
	}
	var n uint64
	for _, b := range set {
		n += uint64(bits.OnesCount8(b))
	}
	return n, nil
}

func (s *BadgerStore) FirstUnsetChunk(_ context.Context, id string) (uint64, bool, error) {
	meta, set, err := s.view(id)
	if errors.Is(err, ErrNotFound) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("读取分片状态失败: %w", err)
	}
	for i := uint64(0); i < meta.TotalChunks; i++ {
		if !set.isSet(i) {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (s *BadgerStore) MissingChunks(_ context.Context, id string) ([]uint64, error) {
	meta, set, err := s.view(id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取分片状态失败: %w", err)
	}
	return missingFrom(meta.TotalChunks, set.isSet), nil
}

func readCounter(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		if len(val) == 8 {
			n = int64(binary.BigEndian.Uint64(val))
		}
		return nil
	})
	return n, err
}

func counterValue(n int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(n))
}

// TryAcquireSlot 在同一个事务里判断并自增，超过上限时什么都不写，等价于自增后回退
func (s *BadgerStore) TryAcquireSlot(ctx context.Context, id string) (bool, error) {
	var acquired bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		acquired = false
		n, err := readCounter(txn, badgerActiveKey(id))
		if err != nil {
			return err
		}
		if n+1 > s.opts.MaxConcurrentUploads {
			return nil
		}
		acquired = true
		return txn.SetEntry(badger.NewEntry(badgerActiveKey(id), counterValue(n+1)).WithTTL(s.opts.SlotTTL))
	})
	if err != nil {
		return false, fmt.Errorf("获取上传槽位失败: %w", err)
	}
	return acquired, nil
}

func (s *BadgerStore) ReleaseSlot(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		n, err := readCounter(txn, badgerActiveKey(id))
		if err != nil {
			return err
		}
		if n <= 1 {
			return txn.Delete(badgerActiveKey(id))
		}
		return txn.SetEntry(badger.NewEntry(badgerActiveKey(id), counterValue(n-1)).WithTTL(s.opts.SlotTTL))
	})
	if err != nil {
		return fmt.Errorf("释放上传槽位失败: %w", err)
	}
	return nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
