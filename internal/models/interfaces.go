package models

import "context"

// Handle is a model resident in memory. Close releases it.
type Handle interface {
	ModelID() string
	Close() error
}

// Loader brings downloaded weights into memory.
type Loader interface {
	Load(ctx context.Context, modelID, dir string) (Handle, error)
}

// Progress is called by a Downloader as bytes arrive. total is the expected
// size, or zero when unknown.
type Progress func(downloaded, total int64)

// Downloader transfers a model's files into dir.
type Downloader interface {
	Download(ctx context.Context, modelID, dir string, progress Progress) error
}
