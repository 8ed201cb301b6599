//go:build darwin || linux

package blobfs

import (
	"fmt"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"terminal-terrace/blob-service/internal/digest"
)

// hashMapped 映射整个文件后一次性哈希，BLAKE3 可以直接吃大块连续内存
func hashMapped(f *os.File) (sum digest.Hash, err error) {
	info, err := f.Stat()
	if err != nil {
		return digest.Hash{}, fmt.Errorf("读取文件信息失败: %w", err)
	}
	if info.Size() == 0 {
		return digest.Sum(nil), nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return digest.Hash{}, fmt.Errorf("映射文件失败: %w", err)
	}
	defer unix.Munmap(data)

	// 底层存储 I/O 错误会以 SIGBUS 出现，转成普通错误
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("读取映射文件时发生页错误: %v", r)
		}
	}()

	return digest.Sum(data), nil
}
