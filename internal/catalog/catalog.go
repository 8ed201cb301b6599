// Package catalog 持久化 blob 目录：哈希到已落盘内容的唯一映射
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"terminal-terrace/blob-service/internal/model/blob"
)

// ErrNotFound 按 ID 查询不到 blob
var ErrNotFound = errors.New("blob not found")

// Catalog 目录接口，行写入后不可变
type Catalog interface {
	// FindByHash 不存在时返回 nil, nil
	FindByHash(ctx context.Context, hash string) (*blob.Blob, error)
	FindByID(ctx context.Context, id uint) (*blob.Blob, error)
	// Create 并发创建同一哈希时，输的一方拿到赢家的行
	Create(ctx context.Context, b *blob.Blob) (*blob.Blob, error)
	Ping(ctx context.Context) error
}

type BlobRepository struct {
	db *gorm.DB
}

func NewBlobRepository(db *gorm.DB) *BlobRepository {
	return &BlobRepository{db: db}
}

// FindByHash 按内容哈希查询
func (r *BlobRepository) FindByHash(ctx context.Context, hash string) (*blob.Blob, error) {
	var b blob.Blob
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询 blob 失败: %w", err)
	}
	return &b, nil
}

// FindByID 按主键查询
func (r *BlobRepository) FindByID(ctx context.Context, id uint) (*blob.Blob, error) {
	var b blob.Blob
	err := r.db.WithContext(ctx).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询 blob 失败: %w", err)
	}
	return &b, nil
}

// Create 写入新 blob。唯一索引拒绝时回查已有的行，调用方无需区分谁先写入
func (r *BlobRepository) Create(ctx context.Context, b *blob.Blob) (*blob.Blob, error) {
	err := r.db.WithContext(ctx).Create(b).Error
	if err == nil {
		return b, nil
	}

	existing, findErr := r.FindByHash(ctx, b.Hash)
	if findErr == nil && existing != nil {
		zap.L().Debug("blob 已被并发写入，使用已有记录",
			zap.String("hash", b.Hash),
			zap.Uint("blob_id", existing.ID),
			zap.Bool("duplicated_key", errors.Is(err, gorm.ErrDuplicatedKey)),
		)
		return existing, nil
	}
	return nil, fmt.Errorf("创建 blob 失败: %w", err)
}

// Ping 检查数据库连接
func (r *BlobRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
