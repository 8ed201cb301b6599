// Package txstore 上传与持有校验事务的短期状态：元数据、分片位图和并发计数器。
// 所有键都带 TTL，被放弃的事务自行过期。
package txstore

import (
	"context"
	"errors"
	"time"

	"terminal-terrace/blob-service/internal/sampler"
)

var (
	// ErrNotFound 事务不存在或已过期
	ErrNotFound = errors.New("transaction not found")
	// ErrExists 事务 ID 冲突
	ErrExists = errors.New("transaction already exists")
)

// ModeKind 事务模式，创建后不再改变
type ModeKind string

const (
	ModeChunked      ModeKind = "chunked"
	ModeWholeFile    ModeKind = "whole_file"
	ModeVerifyRanges ModeKind = "verify_ranges"
)

// Mode 事务模式及其数据：上传模式带临时文件路径，校验模式带挑战区间
type Mode struct {
	Kind   ModeKind              `cbor:"1,keyasint"`
	Path   string                `cbor:"2,keyasint,omitempty"`
	Ranges []sampler.VerifyRange `cbor:"3,keyasint,omitempty"`
}

func ChunkedUpload(path string) Mode {
	return Mode{Kind: ModeChunked, Path: path}
}

func WholeFileUpload(path string) Mode {
	return Mode{Kind: ModeWholeFile, Path: path}
}

func VerifyRanges(ranges []sampler.VerifyRange) Mode {
	return Mode{Kind: ModeVerifyRanges, Ranges: ranges}
}

// IsUpload 分片/整文件模式都会写临时文件
func (m Mode) IsUpload() bool {
	return m.Kind == ModeChunked || m.Kind == ModeWholeFile
}

// Meta 上传事务元数据
type Meta struct {
	ID          string    `cbor:"1,keyasint"`
	Hash        string    `cbor:"2,keyasint"`
	Size        uint64    `cbor:"3,keyasint"`
	TotalChunks uint64    `cbor:"4,keyasint"`
	Mode        Mode      `cbor:"5,keyasint"`
	CreatedAt   time.Time `cbor:"6,keyasint"`
}

// Options 存储参数
type Options struct {
	ChunkSize            uint64
	MaxConcurrentUploads int64
	TTL                  time.Duration // 事务元数据与分片位图
	SlotTTL              time.Duration // 并发计数器，每次获取时刷新
}

// DefaultOptions 协议默认值
func DefaultOptions() Options {
	return Options{
		ChunkSize:            5 << 20,
		MaxConcurrentUploads: 5,
		TTL:                  72 * time.Hour,
		SlotTTL:              60 * time.Second,
	}
}

// TotalChunks 向上取整：最后一个不满的分片也算一个
func TotalChunks(size, chunkSize uint64) uint64 {
	if chunkSize == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// Store 事务存储。所有操作都读最新状态，不做本地缓存
type Store interface {
	Create(ctx context.Context, id, hash string, size uint64, mode Mode) (*Meta, error)
	Get(ctx context.Context, id string) (*Meta, error)
	// Delete 一次删除元数据、位图与计数器；不存在时不报错
	Delete(ctx context.Context, id string) error
	// Take 原子地读取并删除事务，并发调用只有一个能拿到元数据
	Take(ctx context.Context, id string) (*Meta, error)

	// SetChunk 幂等；事务已删除时返回 ErrNotFound
	SetChunk(ctx context.Context, id string, index uint64) error
	IsChunkSet(ctx context.Context, id string, index uint64) (bool, error)
	CountSetChunks(ctx context.Context, id string) (uint64, error)
	// FirstUnsetChunk 返回第一个缺失分片；全部到齐时 ok 为 false
	FirstUnsetChunk(ctx context.Context, id string) (index uint64, ok bool, err error)
	MissingChunks(ctx context.Context, id string) ([]uint64, error)

	// TryAcquireSlot 并发槽位已满时返回 false，这不是事务本身的错误
	TryAcquireSlot(ctx context.Context, id string) (bool, error)
	// ReleaseSlot 计数不会低于 0
	ReleaseSlot(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

func newMeta(opts Options, id, hash string, size uint64, mode Mode, now time.Time) *Meta {
	return &Meta{
		ID:          id,
		Hash:        hash,
		Size:        size,
		TotalChunks: TotalChunks(size, opts.ChunkSize),
		Mode:        mode,
		CreatedAt:   now.UTC().Truncate(time.Millisecond),
	}
}

// missingFrom 收集 [0,total) 中 isSet 为 false 的下标
func missingFrom(total uint64, isSet func(uint64) bool) []uint64 {
	missing := make([]uint64, 0)
	for i := uint64(0); i < total; i++ {
		if !isSet(i) {
			missing = append(missing, i)
		}
	}
	return missing
}
