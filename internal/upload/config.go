package upload

import "terminal-terrace/blob-service/config"

// ConfigFrom 把配置文件里的上传参数换算成字节数
func ConfigFrom(u config.UploadConfig) Config {
	return Config{
		ChunkSize:            config.Bytes(u.ChunkSize),
		MaxConcurrentUploads: int64(u.MaxConcurrentUploads),
		WholeFileMax:         config.Bytes(u.WholeFileMax),
		MaxBlobSize:          config.Bytes(u.MaxBlobSize),
		SampleCount:          uint64(u.SampleCount),
		SampleSize:           config.Bytes(u.SampleSize),
	}
}
