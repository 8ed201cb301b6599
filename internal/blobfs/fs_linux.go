//go:build linux

package blobfs

import (
	"errors"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// preallocate 真实文件用 fallocate 预留磁盘块，空间不足在 Init 阶段就能暴露
func preallocate(f afero.File, size int64) error {
	osFile, ok := f.(*os.File)
	if !ok {
		return f.Truncate(size)
	}
	err := unix.Fallocate(int(osFile.Fd()), 0, 0, size)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		// tmpfs 以外的部分文件系统不支持，退化为 ftruncate
		return osFile.Truncate(size)
	}
	return err
}

func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
