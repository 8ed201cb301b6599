package model

import (
	"gorm.io/gorm"

	"terminal-terrace/blob-service/internal/model/blob"
)

func InitTable(db *gorm.DB) error {
	// 自动迁移数据库表结构
	err := db.AutoMigrate(
		&blob.Blob{},
	)
	if err != nil {
		return err
	}
	return nil
}
