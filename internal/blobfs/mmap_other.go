//go:build !(darwin || linux)

package blobfs

import (
	"fmt"
	"io"
	"os"

	"terminal-terrace/blob-service/internal/digest"
)

func hashMapped(f *os.File) (digest.Hash, error) {
	h := digest.New()
	if _, err := io.Copy(h, f); err != nil {
		return digest.Hash{}, fmt.Errorf("读取文件失败: %w", err)
	}
	return digest.FromHasher(h), nil
}
