//go:build !linux

package blobfs

import (
	"errors"
	"syscall"

	"github.com/spf13/afero"
)

func preallocate(f afero.File, size int64) error {
	return f.Truncate(size)
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
