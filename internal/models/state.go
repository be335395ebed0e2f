// Package models tracks model downloads and owns the single model resident
// in memory.
package models

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"labagent/internal/protocol"
)

var (
	ErrNotDownloaded  = errors.New("model not downloaded yet")
	ErrEmptyModelID   = errors.New("model id is required")
	ErrInvalidModelID = errors.New("invalid model id")
)

// DownloadState is the progress of one model's transfer.
type DownloadState struct {
	ModelID         string
	Status          string
	BytesDownloaded int64
	BytesTotal      int64
	Error           string
	Loaded          bool
}

// Progress is the completed percentage, rounded to one decimal.
func (s DownloadState) Progress() float64 {
	if s.Status == protocol.StatusReady {
		return 100
	}
	if s.BytesTotal <= 0 {
		return 0
	}
	pct := float64(s.BytesDownloaded) / float64(s.BytesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}

func (s DownloadState) DownloadedGB() float64 { return gigabytes(s.BytesDownloaded) }
func (s DownloadState) TotalGB() float64      { return gigabytes(s.BytesTotal) }

// ModelInfo describes a model found on disk.
type ModelInfo struct {
	ModelID      string
	Dir          string
	SizeBytes    int64
	DownloadedAt int64
	Loaded       bool
}

func (m ModelInfo) SizeGB() float64 { return math.Round(float64(m.SizeBytes)/(1<<30)*100) / 100 }

func gigabytes(n int64) float64 {
	return math.Round(float64(n)/(1<<30)*1000) / 1000
}

// SafeName maps a hub id such as "Qwen/Qwen2.5-0.5B-Instruct" to a directory
// name. The first "--" maps back to "/".
func SafeName(modelID string) string {
	return strings.ReplaceAll(modelID, "/", "--")
}

// ValidateModelID rejects ids that would not map to a directory directly
// under the downloads folder.
func ValidateModelID(modelID string) error {
	if strings.TrimSpace(modelID) == "" {
		return ErrEmptyModelID
	}
	if strings.ContainsAny(modelID, "\\\x00") || strings.HasPrefix(modelID, "/") || filepath.IsAbs(modelID) {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	for _, seg := range strings.Split(modelID, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
		}
	}
	downloads := filepath.Join("models", "downloads")
	rel, err := filepath.Rel(downloads, LocalDir("models", modelID))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	return nil
}

func ModelIDFromSafeName(name string) string {
	return strings.Replace(name, "--", "/", 1)
}

// LocalDir is where modelID's files live under modelsDir.
func LocalDir(modelsDir, modelID string) string {
	return filepath.Join(modelsDir, "downloads", SafeName(modelID))
}

func dirHasFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
