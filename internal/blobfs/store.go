// Package blobfs 负责上传数据在磁盘上的落地：临时文件、内容寻址路径和哈希计算。
//
// 目录结构：
//
//	<root>/tmp/<transaction id>                 上传中的文件
//	<root>/blobs/<h0h1>/<h2h3>/<hash>-<size>    已完成的内容
//
// 临时文件与内容目录在同一个根目录下，完成时用 rename 原子地移动。
package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"terminal-terrace/blob-service/internal/digest"
	"terminal-terrace/blob-service/internal/sampler"
)

const (
	tmpDir  = "tmp"
	blobDir = "blobs"

	// http.DetectContentType 最多看前 512 字节
	sniffLen = 512
)

var (
	// ErrNoSpace 磁盘或配额不足
	ErrNoSpace = errors.New("insufficient storage")
	// ErrShortRead 挑战区间超出文件末尾
	ErrShortRead = errors.New("range beyond end of file")
)

// Store 文件系统操作。生产环境是 afero.OsFs，测试用 MemMapFs
type Store struct {
	fs      afero.Fs
	root    string
	hashSem *semaphore.Weighted
}

// New 创建存储并确保目录存在。hashWorkers <= 0 时使用 CPU 核数
func New(fsys afero.Fs, root string, hashWorkers int) (*Store, error) {
	if hashWorkers <= 0 {
		hashWorkers = runtime.NumCPU()
	}
	for _, dir := range []string{root, path.Join(root, tmpDir), path.Join(root, blobDir)} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建存储目录 %s 失败: %w", dir, err)
		}
	}
	return &Store{
		fs:      fsys,
		root:    root,
		hashSem: semaphore.NewWeighted(int64(hashWorkers)),
	}, nil
}

// Fs 底层文件系统
func (s *Store) Fs() afero.Fs { return s.fs }

// Root 存储根目录
func (s *Store) Root() string { return s.root }

// TempPath 事务的临时文件路径只由事务 ID 决定，取消时不需要元数据
func (s *Store) TempPath(txID string) string {
	return path.Join(s.root, tmpDir, txID)
}

// ContentPath 内容寻址的相对路径，hash 必须已经过 digest.Normalize
func ContentPath(hash string, size uint64) string {
	return path.Join(blobDir, hash[0:2], hash[2:4], hash+"-"+strconv.FormatUint(size, 10))
}

// Abs 把目录里保存的相对路径还原成完整路径
func (s *Store) Abs(rel string) string {
	return path.Join(s.root, rel)
}

// Preallocate 创建临时文件并预留 size 字节。size 为 0 时只创建文件
func (s *Store) Preallocate(p string, size uint64) error {
	f, err := s.fs.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return classify(fmt.Errorf("创建临时文件失败: %w", err))
	}

	if size > 0 {
		if err := preallocate(f, int64(size)); err != nil {
			f.Close()
			_ = s.fs.Remove(p)
			return classify(fmt.Errorf("预分配 %d 字节失败: %w", size, err))
		}
	}
	return f.Close()
}

// WriteAt 在偏移处写入一个分片。不带 O_CREATE：事务取消后文件已删除，写入返回 fs.ErrNotExist
func (s *Store) WriteAt(p string, off uint64, data []byte) error {
	f, err := s.fs.OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("打开临时文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, int64(off)); err != nil {
		return classify(fmt.Errorf("写入分片失败: %w", err))
	}
	if err := f.Sync(); err != nil {
		return classify(fmt.Errorf("同步分片失败: %w", err))
	}
	return nil
}

// WriteFile 整文件写入临时路径并 fsync
func (s *Store) WriteFile(p string, data []byte) error {
	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("打开临时文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return classify(fmt.Errorf("写入文件失败: %w", err))
	}
	if err := f.Sync(); err != nil {
		return classify(fmt.Errorf("同步文件失败: %w", err))
	}
	return nil
}

// HashFile 计算整个文件的内容哈希。同时进行的哈希数受 hashWorkers 限制
func (s *Store) HashFile(ctx context.Context, p string) (digest.Hash, error) {
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return digest.Hash{}, err
	}
	defer s.hashSem.Release(1)

	f, err := s.fs.Open(p)
	if err != nil {
		return digest.Hash{}, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	if osFile, ok := f.(*os.File); ok {
		return hashMapped(osFile)
	}

	h := digest.New()
	if _, err := io.Copy(h, f); err != nil {
		return digest.Hash{}, fmt.Errorf("读取文件失败: %w", err)
	}
	return digest.FromHasher(h), nil
}

// HashRanges 按顺序把各个区间的内容送入同一个哈希器
func (s *Store) HashRanges(p string, ranges []sampler.VerifyRange) (digest.Hash, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return digest.Hash{}, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	h := digest.New()
	for _, r := range ranges {
		n, err := io.Copy(h, io.NewSectionReader(f, int64(r.Start), int64(r.Len())))
		if err != nil {
			return digest.Hash{}, fmt.Errorf("读取区间 [%d,%d) 失败: %w", r.Start, r.End, err)
		}
		if uint64(n) != r.Len() {
			return digest.Hash{}, fmt.Errorf("区间 [%d,%d): %w", r.Start, r.End, ErrShortRead)
		}
	}
	return digest.FromHasher(h), nil
}

// Promote 把校验过的临时文件移动到内容路径，返回相对路径
func (s *Store) Promote(tmp, hash string, size uint64) (string, error) {
	rel := ContentPath(hash, size)
	dst := s.Abs(rel)
	if err := s.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return "", classify(fmt.Errorf("创建内容目录失败: %w", err))
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		return "", classify(fmt.Errorf("移动文件失败: %w", err))
	}
	return rel, nil
}

// Remove 删除文件，文件不存在不算错误
func (s *Store) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}

// SniffMime 根据文件头判断 MIME 类型
func (s *Store) SniffMime(p string) (string, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("读取文件头失败: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// Open 以只读方式打开内容文件，rel 为目录里保存的相对路径
func (s *Store) Open(rel string) (afero.File, error) {
	return s.fs.Open(s.Abs(rel))
}

// TempFile 临时目录中的一个文件
type TempFile struct {
	TxID    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListTemp 列出所有临时文件，供清理任务使用
func (s *Store) ListTemp() ([]TempFile, error) {
	infos, err := afero.ReadDir(s.fs, path.Join(s.root, tmpDir))
	if err != nil {
		return nil, fmt.Errorf("读取临时目录失败: %w", err)
	}
	files := make([]TempFile, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		files = append(files, TempFile{
			TxID:    info.Name(),
			Path:    s.TempPath(info.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// classify 把空间不足类错误统一成 ErrNoSpace，保留原始错误链
func classify(err error) error {
	if err == nil || !isNoSpace(err) {
		return err
	}
	zap.L().Warn("存储空间不足", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrNoSpace, err)
}
