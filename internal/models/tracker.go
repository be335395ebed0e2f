package models

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"labagent/internal/protocol"
)

// Tracker follows downloads and holds the one resident model. Downloads run
// on their own goroutines; loads are serialized so the previous handle is
// always released before the next is acquired.
type Tracker struct {
	modelsDir  string
	downloader Downloader
	loader     Loader
	registry   *Registry

	mu     sync.Mutex
	states map[string]*DownloadState

	loadMu   sync.Mutex
	handleMu sync.RWMutex
	handle   Handle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logger is optional; when nil the standard logger is used.
	Logger *log.Logger
}

// NewTracker builds a tracker rooted at modelsDir. registry may be nil.
func NewTracker(modelsDir string, downloader Downloader, loader Loader, registry *Registry) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		modelsDir:  modelsDir,
		downloader: downloader,
		loader:     loader,
		registry:   registry,
		states:     map[string]*DownloadState{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (t *Tracker) ModelsDir() string {
	return t.modelsDir
}

// StartDownload begins fetching modelID in the background. It returns false
// when a download of that model is already running. The entry is marked
// downloading before StartDownload returns, so of two rapid calls only the
// first starts a transfer.
func (t *Tracker) StartDownload(modelID string) bool {
	modelID = strings.TrimSpace(modelID)
	if ValidateModelID(modelID) != nil {
		return false
	}

	t.mu.Lock()
	if st, ok := t.states[modelID]; ok && st.Status == protocol.StatusDownloading {
		t.mu.Unlock()
		return false
	}
	st := &DownloadState{ModelID: modelID, Status: protocol.StatusDownloading}
	t.states[modelID] = st
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.download(st)
	}()
	return true
}

func (t *Tracker) download(st *DownloadState) {
	dir := LocalDir(t.modelsDir, st.ModelID)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("download panicked: %v", r)
			}
		}()
		if t.downloader == nil {
			return errors.New("no downloader configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return t.downloader.Download(t.ctx, st.ModelID, dir, func(downloaded, total int64) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if total > st.BytesTotal {
				st.BytesTotal = total
			}
			if downloaded > st.BytesDownloaded {
				st.BytesDownloaded = downloaded
			}
		})
	}()

	rec := Record{ModelID: st.ModelID, Dir: dir, DownloadedUnix: time.Now().Unix()}
	t.mu.Lock()
	if err != nil {
		st.Status = protocol.StatusError
		st.Error = err.Error()
		if IsHubError(err) {
			st.Error = "HuggingFace error: " + st.Error
		}
		rec.Status = protocol.StatusError
		rec.Error = st.Error
	} else {
		st.Status = protocol.StatusReady
		if st.BytesTotal > 0 {
			st.BytesDownloaded = st.BytesTotal
		}
		rec.Status = protocol.StatusReady
	}
	t.mu.Unlock()

	if err != nil {
		t.logf("[models] download of %s failed: %v", st.ModelID, err)
	} else {
		rec.SizeBytes = dirSize(dir)
		t.logf("[models] downloaded %s (%d bytes)", st.ModelID, rec.SizeBytes)
	}
	if t.registry != nil {
		if regErr := t.registry.Upsert(t.ctx, rec); regErr != nil {
			t.logf("[models] could not record %s: %v", st.ModelID, regErr)
		}
	}
}

// Status reports modelID's download state. Unknown models are idle unless
// their files are already on disk, in which case they are ready.
func (t *Tracker) Status(modelID string) DownloadState {
	if err := ValidateModelID(modelID); err != nil {
		return DownloadState{ModelID: modelID, Status: protocol.StatusIdle, Error: err.Error()}
	}
	t.mu.Lock()
	st, ok := t.states[modelID]
	var out DownloadState
	if ok {
		out = *st
	}
	t.mu.Unlock()

	if !ok {
		out = DownloadState{ModelID: modelID, Status: protocol.StatusIdle}
		if t.Downloaded(modelID) {
			out.Status = protocol.StatusReady
		}
	}
	out.Loaded = t.loadedID() == modelID && modelID != ""
	return out
}

// Downloaded reports whether modelID has usable local files.
func (t *Tracker) Downloaded(modelID string) bool {
	if ValidateModelID(modelID) != nil {
		return false
	}
	t.mu.Lock()
	st, ok := t.states[modelID]
	var status string
	if ok {
		status = st.Status
	}
	t.mu.Unlock()
	if ok && status != protocol.StatusReady {
		return false
	}

	if t.registry != nil {
		if rec, err := t.registry.Get(t.ctx, modelID); err == nil && rec.Status != protocol.StatusReady {
			return false
		}
	}
	return dirHasFiles(LocalDir(t.modelsDir, modelID))
}

// LoadModel makes modelID the resident model. The current model, if any, is
// released first, so a failed load leaves nothing loaded.
func (t *Tracker) LoadModel(ctx context.Context, modelID string) error {
	modelID = strings.TrimSpace(modelID)
	if err := ValidateModelID(modelID); err != nil {
		return err
	}

	t.loadMu.Lock()
	defer t.loadMu.Unlock()

	if !t.Downloaded(modelID) {
		return ErrNotDownloaded
	}
	if t.loader == nil {
		return errors.New("no model loader configured")
	}

	t.release()

	h, err := t.loader.Load(ctx, modelID, LocalDir(t.modelsDir, modelID))
	if err != nil {
		return fmt.Errorf("load %s: %w", modelID, err)
	}
	t.handleMu.Lock()
	t.handle = h
	t.handleMu.Unlock()
	t.logf("[models] loaded %s", modelID)
	return nil
}

// Loaded returns the resident model.
func (t *Tracker) Loaded() (Handle, bool) {
	t.handleMu.RLock()
	defer t.handleMu.RUnlock()
	return t.handle, t.handle != nil
}

// Unload releases the resident model, if any.
func (t *Tracker) Unload() {
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	t.release()
}

// ErrModelBusy is returned when removing a model that is loaded or still
// downloading.
var ErrModelBusy = errors.New("model is in use")

// Remove deletes modelID's files and resets its state to idle. The resident
// model and running downloads cannot be removed.
func (t *Tracker) Remove(ctx context.Context, modelID string) error {
	modelID = strings.TrimSpace(modelID)
	if err := ValidateModelID(modelID); err != nil {
		return err
	}

	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	if t.loadedID() == modelID {
		return fmt.Errorf("%w: %s is loaded", ErrModelBusy, modelID)
	}

	t.mu.Lock()
	if st, ok := t.states[modelID]; ok && st.Status == protocol.StatusDownloading {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is downloading", ErrModelBusy, modelID)
	}
	t.states[modelID] = &DownloadState{ModelID: modelID, Status: protocol.StatusIdle}
	t.mu.Unlock()

	if err := os.RemoveAll(LocalDir(t.modelsDir, modelID)); err != nil {
		return err
	}
	if t.registry != nil {
		if err := t.registry.Delete(ctx, modelID); err != nil {
			return err
		}
	}
	t.logf("[models] removed %s", modelID)
	return nil
}

func (t *Tracker) release() {
	t.handleMu.Lock()
	prev := t.handle
	t.handle = nil
	t.handleMu.Unlock()
	if prev == nil {
		return
	}
	if err := prev.Close(); err != nil {
		t.logf("[models] releasing %s: %v", prev.ModelID(), err)
	}
}

func (t *Tracker) loadedID() string {
	h, ok := t.Loaded()
	if !ok {
		return ""
	}
	return h.ModelID()
}

// List returns the models with files on disk, ordered by id.
func (t *Tracker) List(ctx context.Context) ([]ModelInfo, error) {
	entries, err := os.ReadDir(filepath.Join(t.modelsDir, "downloads"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	downloadedAt := map[string]int64{}
	if t.registry != nil {
		recs, err := t.registry.List(ctx)
		if err != nil {
			t.logf("[models] registry unavailable: %v", err)
		}
		for _, rec := range recs {
			downloadedAt[rec.ModelID] = rec.DownloadedUnix
		}
	}

	loaded := t.loadedID()
	var out []ModelInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := ModelIDFromSafeName(e.Name())
		if !t.Downloaded(id) {
			continue
		}
		dir := filepath.Join(t.modelsDir, "downloads", e.Name())
		out = append(out, ModelInfo{
			ModelID:      id,
			Dir:          dir,
			SizeBytes:    dirSize(dir),
			DownloadedAt: downloadedAt[id],
			Loaded:       id == loaded,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

// Wait blocks until every running download has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close cancels running downloads, waits for them and releases the resident
// model.
func (t *Tracker) Close() error {
	t.cancel()
	t.wg.Wait()
	t.Unload()
	return nil
}

func (t *Tracker) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
