package upload

import (
	"time"

	"terminal-terrace/blob-service/internal/sampler"
	"terminal-terrace/blob-service/internal/txstore"
)

type InitUploadRequest struct {
	// 内容的 BLAKE3-256 哈希，64 位十六进制
	Hash string `json:"hash" binding:"required,len=64,hexadecimal"`
	// 指针区分 "没传" 和 0 字节文件
	Size *uint64 `json:"size" binding:"required"`
}

// InitUploadResponse mode 决定后续步骤：
// verify_ranges 调用 verify，chunked 调用 chunks + complete，whole_file 调用 file
type InitUploadResponse struct {
	TransactionID        string                `json:"transactionId"`
	Mode                 txstore.ModeKind      `json:"mode"`
	Ranges               []sampler.VerifyRange `json:"ranges,omitempty"`
	ChunkSize            uint64                `json:"chunkSize,omitempty"`
	MaxConcurrentUploads int64                 `json:"maxConcurrentUploads,omitempty"`
}

type BlobResponse struct {
	BlobID uint   `json:"blobId"`
	Hash   string `json:"hash"`
	Size   int64  `json:"size"`
}

// CompleteUploadResponse success 为 false 时 missingChunks 给出仍缺的分片，事务保持打开
type CompleteUploadResponse struct {
	Success       bool     `json:"success"`
	BlobID        *uint    `json:"blobId,omitempty"`
	MissingChunks []uint64 `json:"missingChunks,omitempty"`
}

type StatusResponse struct {
	TransactionID string           `json:"transactionId"`
	Mode          txstore.ModeKind `json:"mode"`
	Hash          string           `json:"hash"`
	Size          uint64           `json:"size"`
	CreatedAt     time.Time        `json:"createdAt"`

	// chunked
	ChunkSize       uint64   `json:"chunkSize,omitempty"`
	TotalChunks     uint64   `json:"totalChunks,omitempty"`
	UploadedChunks  uint64   `json:"uploadedChunks,omitempty"`
	MissingChunks   []uint64 `json:"missingChunks,omitempty"`
	ReadyToComplete bool     `json:"readyToComplete,omitempty"`

	// whole_file
	ReadyForWholeFile bool `json:"readyForWholeFile,omitempty"`

	// verify_ranges
	Ranges []sampler.VerifyRange `json:"ranges,omitempty"`
}
