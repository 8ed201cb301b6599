// Package sampler 生成持有校验的挑战区间：客户端必须提交这些区间的内容，证明自己持有该文件
package sampler

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"slices"
)

// VerifyRange 半开区间 [Start, End)
type VerifyRange struct {
	Start uint64 `json:"start" cbor:"1,keyasint"`
	End   uint64 `json:"end" cbor:"2,keyasint"`
}

// Len 区间长度
func (r VerifyRange) Len() uint64 {
	return r.End - r.Start
}

// NewRand 以 crypto/rand 为种子的 ChaCha8 生成器，客户端无法预测挑战偏移
func NewRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("sampler: crypto/rand failed: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// NewSeededRand 固定种子，用于测试和 blobctl
func NewSeededRand(seed uint64) *rand.Rand {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return rand.New(rand.NewChaCha8(s))
}

// GenerateChallengeRanges 在 fileSize 字节的文件中随机抽取 sampleCount 个长度为 sampleSize 的区间。
// 结果按起点排序并合并，可以从头到尾顺序读取。
// 文件不大于挑战总长时返回覆盖整个文件的单个区间。
func GenerateChallengeRanges(rng *rand.Rand, fileSize, sampleCount, sampleSize uint64) []VerifyRange {
	if sampleCount == 0 || sampleSize == 0 || fileSize <= sampleCount*sampleSize {
		return []VerifyRange{{Start: 0, End: fileSize}}
	}

	maxStart := fileSize - sampleSize
	ranges := make([]VerifyRange, 0, sampleCount)
	for i := uint64(0); i < sampleCount; i++ {
		start := rng.Uint64N(maxStart + 1)
		ranges = append(ranges, VerifyRange{Start: start, End: start + sampleSize})
	}
	return Merge(ranges)
}

// Merge 按起点排序并合并重叠或相邻的区间，会原地重排输入
func Merge(ranges []VerifyRange) []VerifyRange {
	if len(ranges) == 0 {
		return nil
	}
	slices.SortFunc(ranges, func(a, b VerifyRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	merged := make([]VerifyRange, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		if r.Start <= cur.End {
			cur.End = max(cur.End, r.End)
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	return append(merged, cur)
}

// TotalLength 各区间长度之和
func TotalLength(ranges []VerifyRange) uint64 {
	var n uint64
	for _, r := range ranges {
		n += r.Len()
	}
	return n
}
