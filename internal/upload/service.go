package upload

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/catalog"
	"terminal-terrace/blob-service/internal/digest"
	"terminal-terrace/blob-service/internal/metrics"
	"terminal-terrace/blob-service/internal/model/blob"
	"terminal-terrace/blob-service/internal/sampler"
	"terminal-terrace/blob-service/internal/txstore"
	"terminal-terrace/blob-service/pkg/response"
)

// Config 上传协议参数
type Config struct {
	ChunkSize            uint64
	MaxConcurrentUploads int64
	WholeFileMax         uint64
	MaxBlobSize          uint64 // 0 表示不限制
	SampleCount          uint64
	SampleSize           uint64
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:            5 << 20,
		MaxConcurrentUploads: 5,
		WholeFileMax:         15 << 20,
		SampleCount:          10,
		SampleSize:           1 << 20,
	}
}

// useChunked 超过 3 个分片大小（或整文件上限）才走分片上传
func (c Config) useChunked(size uint64) bool {
	return size > 3*c.ChunkSize || size > c.WholeFileMax
}

// Service 上传事务状态机。事务状态全部在 txstore 里，Service 本身无状态，可以多实例部署
type Service struct {
	cfg     Config
	store   txstore.Store
	catalog catalog.Catalog
	files   *blobfs.Store
	metrics *metrics.Metrics
	log     *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewService(cfg Config, store txstore.Store, cat catalog.Catalog, files *blobfs.Store, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(false)
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		catalog: cat,
		files:   files,
		metrics: m,
		log:     log.Named("upload"),
		rng:     sampler.NewRand(),
	}
}

func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.Observe(op, resultOf(err), start)
}

// lookup 读取事务。ID 只接受 UUID，临时文件路径由 ID 拼出，不能带路径分隔符
func (s *Service) lookup(ctx context.Context, id string) (*txstore.Meta, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errNotFound(id)
	}
	meta, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}
	return meta, nil
}

func (s *Service) challenge(size uint64) []sampler.VerifyRange {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return sampler.GenerateChallengeRanges(s.rng, size, s.cfg.SampleCount, s.cfg.SampleSize)
}

// Init 开始一次上传。目录里已有该哈希时返回挑战区间，客户端证明持有内容即可，不再重传
func (s *Service) Init(ctx context.Context, hash string, size uint64) (_ *InitUploadResponse, err error) {
	began := time.Now()
	defer func() { s.observe("init", began, err) }()

	hash, err = digest.Normalize(hash)
	if err != nil {
		return nil, errBadRequest("哈希格式错误", response.WithError(err))
	}
	if s.cfg.MaxBlobSize > 0 && size > s.cfg.MaxBlobSize {
		return nil, errTooLarge("文件超过大小上限", s.cfg.MaxBlobSize)
	}

	existing, err := s.catalog.FindByHash(ctx, hash)
	if err != nil {
		return nil, errInternal("查询文件目录失败", err)
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("transaction_id", id), zap.String("hash", hash), zap.Uint64("size", size))

	if existing != nil {
		ranges := s.challenge(uint64(existing.Size))
		if _, err := s.store.Create(ctx, id, hash, size, txstore.VerifyRanges(ranges)); err != nil {
			return nil, storeErr(id, err)
		}
		s.metrics.DedupHit()
		log.Info("内容已存在，发起持有校验",
			zap.Uint("blob_id", existing.ID),
			zap.Int("ranges", len(ranges)),
		)
		return &InitUploadResponse{
			TransactionID: id,
			Mode:          txstore.ModeVerifyRanges,
			Ranges:        ranges,
		}, nil
	}

	tmp := s.files.TempPath(id)
	if err := s.files.Preallocate(tmp, size); err != nil {
		log.Error("预分配临时文件失败", zap.Error(err))
		return nil, fileErr(id, "创建临时文件失败", err)
	}

	mode := txstore.WholeFileUpload(tmp)
	if s.cfg.useChunked(size) {
		mode = txstore.ChunkedUpload(tmp)
	}
	if _, err := s.store.Create(ctx, id, hash, size, mode); err != nil {
		_ = s.files.Remove(tmp)
		return nil, storeErr(id, err)
	}

	log.Info("上传事务已创建", zap.String("mode", string(mode.Kind)))

	resp := &InitUploadResponse{TransactionID: id, Mode: mode.Kind}
	if mode.Kind == txstore.ModeChunked {
		resp.ChunkSize = s.cfg.ChunkSize
		resp.MaxConcurrentUploads = s.cfg.MaxConcurrentUploads
	}
	return resp, nil
}

// Chunk 写入 [start,end) 区间。分片可以乱序、并行到达，偏移是绝对的
func (s *Service) Chunk(ctx context.Context, id string, start, end uint64, body []byte) (err error) {
	began := time.Now()
	defer func() { s.observe("chunk", began, err) }()

	meta, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if meta.Mode.Kind != txstore.ModeChunked {
		return errWrongStep("chunk", meta.Mode.Kind)
	}

	if end < start {
		return errBadRequest("分片区间无效", response.WithDetail("start", start), response.WithDetail("end", end))
	}
	length := end - start
	if length > s.cfg.ChunkSize || length != uint64(len(body)) {
		return errTooLarge("分片大小与区间不符或超过上限", s.cfg.ChunkSize)
	}
	if start >= meta.Size || end > meta.Size {
		return errBadRequest("分片超出文件范围", response.WithDetail("size", meta.Size))
	}
	if start%s.cfg.ChunkSize != 0 {
		return errBadRequest("分片起点未按分片大小对齐", response.WithDetail("chunkSize", s.cfg.ChunkSize))
	}
	if expected := min(s.cfg.ChunkSize, meta.Size-start); length != expected {
		return errBadRequest("分片长度错误", response.WithDetail("expected", expected))
	}
	index := start / s.cfg.ChunkSize

	ok, err := s.store.TryAcquireSlot(ctx, id)
	if err != nil {
		return storeErr(id, err)
	}
	if !ok {
		s.metrics.SlotRejected()
		return response.NewBusinessError(
			response.WithErrorCode(response.TooManyRequests),
			response.WithErrorMessage("并发上传数已达上限，请稍后重试"),
			response.WithDetail("maxConcurrentUploads", s.cfg.MaxConcurrentUploads),
		)
	}
	defer func() {
		// 请求被取消也要释放
		if releaseErr := s.store.ReleaseSlot(context.WithoutCancel(ctx), id); releaseErr != nil {
			s.log.Warn("释放上传槽位失败", zap.String("transaction_id", id), zap.Error(releaseErr))
		}
	}()

	if err := s.files.WriteAt(meta.Mode.Path, start, body); err != nil {
		return fileErr(id, "写入分片失败", err)
	}
	if err := s.store.SetChunk(ctx, id, index); err != nil {
		return storeErr(id, err)
	}

	s.metrics.AddBytes(len(body))
	s.log.Debug("分片已写入",
		zap.String("transaction_id", id),
		zap.Uint64("index", index),
		zap.Int("bytes", len(body)),
	)
	return nil
}

// WholeFile 小文件一次性上传。哈希在写盘之前校验
func (s *Service) WholeFile(ctx context.Context, id string, body []byte) (_ *BlobResponse, err error) {
	began := time.Now()
	defer func() { s.observe("whole_file", began, err) }()

	meta, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Mode.Kind != txstore.ModeWholeFile {
		return nil, errWrongStep("whole_file", meta.Mode.Kind)
	}
	if uint64(len(body)) > s.cfg.WholeFileMax {
		return nil, errTooLarge("文件超过整文件上传上限", s.cfg.WholeFileMax)
	}
	if uint64(len(body)) != meta.Size {
		return nil, errBadRequest("文件大小与声明不符",
			response.WithDetail("expected", meta.Size),
			response.WithDetail("actual", len(body)),
		)
	}

	if !digest.EqualHex(digest.Sum(body), meta.Hash) {
		s.discard(ctx, meta, "哈希校验失败")
		return nil, errHashMismatch()
	}

	if existing, err := s.catalog.FindByHash(ctx, meta.Hash); err != nil {
		return nil, errInternal("查询文件目录失败", err)
	} else if existing != nil {
		s.discard(ctx, meta, "内容已由其他上传完成")
		return blobResponse(existing), nil
	}

	if err := s.files.WriteFile(meta.Mode.Path, body); err != nil {
		return nil, fileErr(id, "写入文件失败", err)
	}
	s.metrics.AddBytes(len(body))

	b, err := s.finalize(ctx, meta)
	if err != nil {
		return nil, err
	}
	return blobResponse(b), nil
}

// Complete 所有分片到齐后校验整文件哈希并发布。
// 有缺失分片时返回 success=false 和缺失列表，事务保持打开，客户端补传后再调用
func (s *Service) Complete(ctx context.Context, id string) (_ *CompleteUploadResponse, err error) {
	began := time.Now()
	defer func() { s.observe("complete", began, err) }()

	meta, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.Mode.IsUpload() {
		return nil, response.NewBusinessError(
			response.WithErrorCode(response.Forbidden),
			response.WithErrorMessage("校验事务不能完成上传"),
			response.WithDetail("mode", meta.Mode.Kind),
		)
	}

	// 每次都读最新位图，有缺口时才列出全部缺失分片
	first, incomplete, err := s.store.FirstUnsetChunk(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}
	if incomplete {
		missing, err := s.store.MissingChunks(ctx, id)
		if err != nil {
			return nil, storeErr(id, err)
		}
		s.log.Debug("分片未到齐",
			zap.String("transaction_id", id),
			zap.Uint64("first_missing", first),
			zap.Int("missing", len(missing)),
		)
		return &CompleteUploadResponse{Success: false, MissingChunks: missing}, nil
	}

	sum, err := s.files.HashFile(ctx, meta.Mode.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errInternal("请求已取消", ctxErr)
		}
		return nil, fileErr(id, "计算文件哈希失败", err)
	}
	if !digest.EqualHex(sum, meta.Hash) {
		s.discard(ctx, meta, "哈希校验失败")
		return nil, errHashMismatch()
	}

	if existing, err := s.catalog.FindByHash(ctx, meta.Hash); err != nil {
		return nil, errInternal("查询文件目录失败", err)
	} else if existing != nil {
		s.discard(ctx, meta, "内容已由其他上传完成")
		return &CompleteUploadResponse{Success: true, BlobID: &existing.ID}, nil
	}

	b, err := s.finalize(ctx, meta)
	if err != nil {
		return nil, err
	}
	return &CompleteUploadResponse{Success: true, BlobID: &b.ID}, nil
}

// Verify 比较客户端提交的区间内容与已存内容的同一组区间。
// 无论成败事务都会被删除，同一个事务不能重复尝试
func (s *Service) Verify(ctx context.Context, id string, body []byte) (_ *BlobResponse, err error) {
	began := time.Now()
	defer func() { s.observe("verify", began, err) }()

	meta, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Mode.Kind != txstore.ModeVerifyRanges {
		return nil, errWrongStep("verify", meta.Mode.Kind)
	}

	// 先取走事务再计算，并发的重放只会拿到 NotFound
	meta, err = s.store.Take(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}

	log := s.log.With(zap.String("transaction_id", id), zap.String("hash", meta.Hash))
	ranges := meta.Mode.Ranges
	if uint64(len(body)) != sampler.TotalLength(ranges) {
		log.Info("持有校验失败：长度不符", zap.Int("bytes", len(body)))
		return nil, errHashMismatch()
	}

	existing, err := s.catalog.FindByHash(ctx, meta.Hash)
	if err != nil {
		return nil, errInternal("查询文件目录失败", err)
	}
	if existing == nil {
		return nil, errInternal("校验的内容不在目录中", errors.New("blob missing for verify transaction"))
	}

	stored, err := s.files.HashRanges(s.files.Abs(existing.Path), ranges)
	if err != nil {
		return nil, errInternal("读取已存内容失败", err)
	}
	if !digest.Equal(digest.Sum(body), stored) {
		log.Info("持有校验失败：内容不符")
		return nil, errHashMismatch()
	}

	log.Info("持有校验通过", zap.Uint("blob_id", existing.ID))
	return blobResponse(existing), nil
}

// Status 只读，客户端崩溃后据此续传，不需要重新 Init
func (s *Service) Status(ctx context.Context, id string) (_ *StatusResponse, err error) {
	began := time.Now()
	defer func() { s.observe("status", began, err) }()

	meta, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		TransactionID: id,
		Mode:          meta.Mode.Kind,
		Hash:          meta.Hash,
		Size:          meta.Size,
		CreatedAt:     meta.CreatedAt,
	}
	switch meta.Mode.Kind {
	case txstore.ModeChunked:
		missing, err := s.store.MissingChunks(ctx, id)
		if err != nil {
			return nil, storeErr(id, err)
		}
		resp.ChunkSize = s.cfg.ChunkSize
		resp.TotalChunks = meta.TotalChunks
		resp.UploadedChunks = meta.TotalChunks - uint64(len(missing))
		resp.MissingChunks = missing
		resp.ReadyToComplete = len(missing) == 0
	case txstore.ModeWholeFile:
		resp.ReadyForWholeFile = true
	case txstore.ModeVerifyRanges:
		resp.Ranges = meta.Mode.Ranges
	}
	return resp, nil
}

// Cancel 任何状态都可以取消。临时文件路径由 ID 决定，事务已过期也能清理
func (s *Service) Cancel(ctx context.Context, id string) (err error) {
	began := time.Now()
	defer func() { s.observe("cancel", began, err) }()

	if _, err := uuid.Parse(id); err != nil {
		return errNotFound(id)
	}
	if err := s.files.Remove(s.files.TempPath(id)); err != nil {
		return errInternal("删除临时文件失败", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storeErr(id, err)
	}
	s.log.Info("上传事务已取消", zap.String("transaction_id", id))
	return nil
}

// finalize 把临时文件移到内容路径并写入目录，最后删除事务
func (s *Service) finalize(ctx context.Context, meta *txstore.Meta) (*blob.Blob, error) {
	mime, err := s.files.SniffMime(meta.Mode.Path)
	if err != nil {
		return nil, fileErr(meta.ID, "读取文件失败", err)
	}
	rel, err := s.files.Promote(meta.Mode.Path, meta.Hash, meta.Size)
	if err != nil {
		return nil, fileErr(meta.ID, "保存文件失败", err)
	}

	b, err := s.catalog.Create(ctx, &blob.Blob{
		Hash:     meta.Hash,
		Size:     int64(meta.Size),
		Path:     rel,
		MimeType: mime,
	})
	if err != nil {
		return nil, errInternal("写入文件目录失败", err)
	}

	if err := s.store.Delete(ctx, meta.ID); err != nil {
		// blob 已发布，事务会按 TTL 过期
		s.log.Warn("删除已完成的事务失败", zap.String("transaction_id", meta.ID), zap.Error(err))
	}
	s.log.Info("上传完成",
		zap.String("transaction_id", meta.ID),
		zap.String("hash", meta.Hash),
		zap.Uint("blob_id", b.ID),
		zap.String("path", rel),
	)
	return b, nil
}

// discard 删除临时文件和事务，失败只记日志
func (s *Service) discard(ctx context.Context, meta *txstore.Meta, reason string) {
	log := s.log.With(zap.String("transaction_id", meta.ID), zap.String("hash", meta.Hash))
	if err := s.files.Remove(meta.Mode.Path); err != nil {
		log.Warn("删除临时文件失败", zap.Error(err))
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), meta.ID); err != nil {
		log.Warn("删除事务失败", zap.Error(err))
	}
	log.Info("上传事务已丢弃", zap.String("reason", reason))
}

func blobResponse(b *blob.Blob) *BlobResponse {
	return &BlobResponse{BlobID: b.ID, Hash: b.Hash, Size: b.Size}
}
