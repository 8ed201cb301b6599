// Package blob 内容寻址存储的目录模型
package blob

import (
	"time"
)

// Blob 已落盘的内容（只存元数据，不存内容本身）。
// 行一旦写入就不再修改，同一个哈希只会有一行
type Blob struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// BLAKE3-256 哈希（64 位小写十六进制）
	Hash string `gorm:"type:varchar(64);uniqueIndex;not null" json:"hash"`
	Size int64  `gorm:"not null" json:"size"`
	// 内容文件在存储根目录下的路径，如 "blobs/ab/cd/abcd...-1024"
	Path      string    `gorm:"type:varchar(500);not null" json:"path"`
	MimeType  string    `gorm:"type:varchar(100);not null" json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Blob) TableName() string {
	return "blobs"
}
