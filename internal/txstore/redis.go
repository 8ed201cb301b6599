package txstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "upload:"

// 同一事务的键使用 {id} hash tag，集群模式下落在同一个 slot，可以一次 DEL
func metaKey(id string) string   { return keyPrefix + "{" + id + "}:meta" }
func chunksKey(id string) string { return keyPrefix + "{" + id + "}:chunks" }
func activeKey(id string) string { return keyPrefix + "{" + id + "}:active" }

// setChunkScript 元数据不存在时不写位图，避免已取消事务留下孤儿键
var setChunkScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('SETBIT', KEYS[2], ARGV[1], 1)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// releaseSlotScript 计数归零时直接删除键；过期后的重复释放也不会变成负数
var releaseSlotScript = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return v
`)

// RedisStore 基于 Redis 的事务存储
type RedisStore struct {
	client redis.UniversalClient
	opts   Options
}

func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) Create(ctx context.Context, id, hash string, size uint64, mode Mode) (*Meta, error) {
	meta := newMeta(s.opts, id, hash, size, mode, time.Now())
	data, err := encodeMeta(meta)
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, metaKey(id), data, s.opts.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("保存事务失败: %w", err)
	}
	if !ok {
		return nil, ErrExists
	}
	return meta, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Meta, error) {
	data, err := s.client.Get(ctx, metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取事务失败: %w", err)
	}
	return decodeMeta(data)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, metaKey(id), chunksKey(id), activeKey(id)).Err(); err != nil {
		return fmt.Errorf("删除事务失败: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, id string) (*Meta, error) {
	var getDel *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		getDel = p.GetDel(ctx, metaKey(id))
		p.Del(ctx, chunksKey(id), activeKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("取出事务失败: %w", err)
	}
	return s.metaFrom(getDel)
}

func (s *RedisStore) SetChunk(ctx context.Context, id string, index uint64) error {
	res, err := setChunkScript.Run(ctx, s.client,
		[]string{metaKey(id), chunksKey(id)},
		index, s.opts.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("标记分片失败: %w", err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) IsChunkSet(ctx context.Context, id string, index uint64) (bool, error) {
	bit, err := s.client.GetBit(ctx, chunksKey(id), int64(index)).Result()
	if err != nil {
		return false, fmt.Errorf("读取分片状态失败: %w", err)
	}
	return bit == 1, nil
}

func (s *RedisStore) CountSetChunks(ctx context.Context, id string) (uint64, error) {
	n, err := s.client.BitCount(ctx, chunksKey(id), nil).Result()
	if err != nil {
		return 0, fmt.Errorf("统计分片失败: %w", err)
	}
	return uint64(n), nil
}

func (s *RedisStore) FirstUnsetChunk(ctx context.Context, id string) (uint64, bool, error) {
	var (
		metaCmd *redis.StringCmd
		posCmd  *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		metaCmd = p.Get(ctx, metaKey(id))
		posCmd = p.BitPos(ctx, chunksKey(id), 0)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, fmt.Errorf("读取分片状态失败: %w", err)
	}

	meta, err := s.metaFrom(metaCmd)
	if err != nil {
		return 0, false, err
	}

	// 位图不存在时 BITPOS 0 返回 0；全 1 时返回位图长度，都落在下面的判断里
	pos := posCmd.Val()
	if pos < 0 || uint64(pos) >= meta.TotalChunks {
		return 0, false, nil
	}
	return uint64(pos), true, nil
}

func (s *RedisStore) MissingChunks(ctx context.Context, id string) ([]uint64, error) {
	var (
		metaCmd   *redis.StringCmd
		bitmapCmd *redis.StringCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		metaCmd = p.Get(ctx, metaKey(id))
		bitmapCmd = p.Get(ctx, chunksKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("读取分片状态失败: %w", err)
	}

	meta, err := s.metaFrom(metaCmd)
	if err != nil {
		return nil, err
	}

	bitmap, _ := bitmapCmd.Bytes()
	return missingFrom(meta.TotalChunks, func(i uint64) bool {
		// Redis 位序：第 0 位是第一个字节的最高位
		byteIdx := i / 8
		if byteIdx >= uint64(len(bitmap)) {
			return false
		}
		return bitmap[byteIdx]&(0x80>>(i%8)) != 0
	}), nil
}

func (s *RedisStore) metaFrom(cmd *redis.StringCmd) (*Meta, error) {
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取事务失败: %w", err)
	}
	return decodeMeta(data)
}

func (s *RedisStore) TryAcquireSlot(ctx context.Context, id string) (bool, error) {
	key := activeKey(id)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.PExpire(ctx, key, s.opts.SlotTTL)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("获取上传槽位失败: %w", err)
	}

	if incr.Val() > s.opts.MaxConcurrentUploads {
		// 只回退自己刚加上的那一次
		if err := s.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("回退上传槽位失败: %w", err)
		}
		return false, nil
	}
	return true, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, id string) error {
	if err := releaseSlotScript.Run(ctx, s.client, []string{activeKey(id)}).Err(); err != nil {
		return fmt.Errorf("释放上传槽位失败: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
