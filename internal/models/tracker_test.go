package models

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"labagent/internal/protocol"
)

// gatedDownloader writes one file per model once release is closed.
type gatedDownloader struct {
	release chan struct{}
	steps   chan struct{}
	err     error
}

func (d *gatedDownloader) Download(ctx context.Context, modelID, dir string, progress Progress) error {
	progress(0, 300)
	for i := int64(1); i <= 3; i++ {
		select {
		case <-d.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		progress(i*100, 300)
		if d.steps != nil {
			d.steps <- struct{}{}
		}
	}
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(filepath.Join(dir, "model.safetensors"), []byte("weights"), 0o644)
}

type fakeHandle struct {
	id     string
	events *[]string
	mu     *sync.Mutex
}

func (h *fakeHandle) ModelID() string { return h.id }
func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.events = append(*h.events, "release "+h.id)
	return nil
}

type fakeLoader struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (l *fakeLoader) Load(_ context.Context, modelID, dir string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.events = append(l.events, "acquire "+modelID)
	return &fakeHandle{id: modelID, events: &l.events, mu: &l.mu}, nil
}

func newTestTracker(t *testing.T, d Downloader, l Loader, reg *Registry) *Tracker {
	t.Helper()
	tr := NewTracker(t.TempDir(), d, l, reg)
	tr.Logger = log.New(io.Discard, "", 0)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func seedModel(t *testing.T, tr *Tracker, modelID string) {
	t.Helper()
	dir := LocalDir(tr.ModelsDir(), modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestStartDownloadTwiceRunsOnce(t *testing.T) {
	d := &gatedDownloader{release: make(chan struct{})}
	tr := newTestTracker(t, d, &fakeLoader{}, nil)

	if !tr.StartDownload("Qwen/Qwen2.5-0.5B-Instruct") {
		t.Fatalf("first call should start a download")
	}
	if tr.StartDownload("Qwen/Qwen2.5-0.5B-Instruct") {
		t.Fatalf("second call must report the running download")
	}
	if st := tr.Status("Qwen/Qwen2.5-0.5B-Instruct"); st.Status != protocol.StatusDownloading {
		t.Fatalf("expected downloading, got %s", st.Status)
	}

	close(d.release)
	tr.Wait()

	st := tr.Status("Qwen/Qwen2.5-0.5B-Instruct")
	if st.Status != protocol.StatusReady || st.Progress() != 100 {
		t.Fatalf("expected ready at 100%%, got %#v", st)
	}
	if !tr.Downloaded("Qwen/Qwen2.5-0.5B-Instruct") {
		t.Fatalf("model should be downloaded")
	}
	if !tr.StartDownload("Qwen/Qwen2.5-0.5B-Instruct") {
		t.Fatalf("a finished download may be restarted")
	}
	tr.Wait()
}

func TestDownloadProgressIsMonotonic(t *testing.T) {
	d := &gatedDownloader{release: make(chan struct{}), steps: make(chan struct{})}
	tr := newTestTracker(t, d, &fakeLoader{}, nil)
	tr.StartDownload("m")

	last := -1.0
	for i := 0; i < 3; i++ {
		d.release <- struct{}{}
		<-d.steps
		st := tr.Status("m")
		if st.Progress() < last {
			t.Fatalf("progress went backwards: %v after %v", st.Progress(), last)
		}
		last = st.Progress()
		if i < 2 && st.Status != protocol.StatusDownloading {
			t.Fatalf("status left downloading early: %s", st.Status)
		}
	}
	tr.Wait()
	if st := tr.Status("m"); st.Status != protocol.StatusReady {
		t.Fatalf("expected ready, got %s", st.Status)
	}
}

func TestDownloadFailureIsReported(t *testing.T) {
	d := &gatedDownloader{release: make(chan struct{}), err: &HubError{URL: "x", StatusCode: 404}}
	close(d.release)
	tr := newTestTracker(t, d, &fakeLoader{}, nil)
	tr.StartDownload("missing/model")
	tr.Wait()

	st := tr.Status("missing/model")
	if st.Status != protocol.StatusError {
		t.Fatalf("expected error status, got %s", st.Status)
	}
	if !strings.HasPrefix(st.Error, "HuggingFace error: ") {
		t.Fatalf("unexpected error text %q", st.Error)
	}
	if tr.Downloaded("missing/model") {
		t.Fatalf("failed download must not count as downloaded")
	}
}

func TestStatusUnknownAndOnDisk(t *testing.T) {
	tr := newTestTracker(t, nil, &fakeLoader{}, nil)
	if st := tr.Status("nobody/none"); st.Status != protocol.StatusIdle || st.Progress() != 0 {
		t.Fatalf("unknown model should be idle, got %#v", st)
	}
	seedModel(t, tr, "org/present")
	if st := tr.Status("org/present"); st.Status != protocol.StatusReady || st.Progress() != 100 {
		t.Fatalf("files on disk should report ready, got %#v", st)
	}
}

func TestLoadModelReleasesBeforeAcquire(t *testing.T) {
	loader := &fakeLoader{}
	tr := newTestTracker(t, nil, loader, nil)
	ctx := context.Background()

	if err := tr.LoadModel(ctx, "org/a"); !errors.Is(err, ErrNotDownloaded) {
		t.Fatalf("expected ErrNotDownloaded, got %v", err)
	}
	seedModel(t, tr, "org/a")
	seedModel(t, tr, "org/b")

	if err := tr.LoadModel(ctx, "org/a"); err != nil {
		t.Fatalf("load a: %v", err)
	}
	if err := tr.LoadModel(ctx, "org/b"); err != nil {
		t.Fatalf("load b: %v", err)
	}
	h, ok := tr.Loaded()
	if !ok || h.ModelID() != "org/b" {
		t.Fatalf("expected org/b loaded, got %v", h)
	}
	if !tr.Status("org/b").Loaded || tr.Status("org/a").Loaded {
		t.Fatalf("loaded flag wrong")
	}

	loader.mu.Lock()
	got := append([]string(nil), loader.events...)
	loader.mu.Unlock()
	want := []string{"acquire org/a", "release org/a", "acquire org/b"}
	if len(got) != len(want) {
		t.Fatalf("unexpected lifecycle %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected lifecycle %v", got)
		}
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := tr.Loaded(); ok {
		t.Fatalf("close must release the model")
	}
}

func TestConcurrentLoadsKeepOneHandle(t *testing.T) {
	loader := &fakeLoader{}
	tr := newTestTracker(t, nil, loader, nil)
	for _, id := range []string{"org/a", "org/b", "org/c"} {
		seedModel(t, tr, id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		id := []string{"org/a", "org/b", "org/c"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.LoadModel(context.Background(), id)
		}()
	}
	wg.Wait()

	loader.mu.Lock()
	defer loader.mu.Unlock()
	live := 0
	for _, ev := range loader.events {
		switch {
		case strings.HasPrefix(ev, "acquire"):
			live++
		default:
			live--
		}
		if live > 1 {
			t.Fatalf("two models resident at once: %v", loader.events)
		}
	}
}

func TestFailedLoadLeavesNothingLoaded(t *testing.T) {
	loader := &fakeLoader{}
	tr := newTestTracker(t, nil, loader, nil)
	seedModel(t, tr, "org/a")
	seedModel(t, tr, "org/b")
	if err := tr.LoadModel(context.Background(), "org/a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	loader.mu.Lock()
	loader.err = errors.New("out of memory")
	loader.mu.Unlock()

	if err := tr.LoadModel(context.Background(), "org/b"); err == nil {
		t.Fatalf("expected load failure")
	}
	if _, ok := tr.Loaded(); ok {
		t.Fatalf("previous model must have been released")
	}
}

func TestListAndRegistry(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "models.sqlite"))
	t.Cleanup(func() { _ = reg.Close() })

	d := &gatedDownloader{release: make(chan struct{})}
	close(d.release)
	tr := newTestTracker(t, d, &fakeLoader{}, reg)
	tr.StartDownload("org/fresh")
	tr.Wait()
	seedModel(t, tr, "org/manual")

	models, err := tr.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(models) != 2 || models[0].ModelID != "org/fresh" || models[1].ModelID != "org/manual" {
		t.Fatalf("unexpected list %#v", models)
	}
	if models[0].DownloadedAt == 0 || models[0].SizeBytes == 0 {
		t.Fatalf("registry data missing: %#v", models[0])
	}
	if models[1].DownloadedAt != 0 {
		t.Fatalf("manual copy is not registered: %#v", models[1])
	}

	rec, err := reg.Get(context.Background(), "org/fresh")
	if err != nil || rec.Status != protocol.StatusReady {
		t.Fatalf("expected ready record, got %#v err=%v", rec, err)
	}
}

func TestRemoveRefusesLoadedModel(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "models.sqlite"))
	t.Cleanup(func() { _ = reg.Close() })

	d := &gatedDownloader{release: make(chan struct{})}
	close(d.release)
	tr := newTestTracker(t, d, &fakeLoader{}, reg)
	tr.StartDownload("org/a")
	tr.Wait()

	if err := tr.LoadModel(context.Background(), "org/a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tr.Remove(context.Background(), "org/a"); !errors.Is(err, ErrModelBusy) {
		t.Fatalf("expected ErrModelBusy, got %v", err)
	}

	tr.Unload()
	if err := tr.Remove(context.Background(), "org/a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if tr.Downloaded("org/a") {
		t.Fatalf("files should be gone")
	}
	if st := tr.Status("org/a"); st.Status != protocol.StatusIdle {
		t.Fatalf("expected idle after remove, got %q", st.Status)
	}
	tr.mu.Lock()
	st, kept := tr.states["org/a"]
	tr.mu.Unlock()
	if !kept || st.Status != protocol.StatusIdle || st.BytesTotal != 0 {
		t.Fatalf("removed model should keep an idle entry, got %#v kept=%v", st, kept)
	}
	if _, err := reg.Get(context.Background(), "org/a"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("registry record should be gone, got %v", err)
	}
}

func TestSafeNameRoundTrip(t *testing.T) {
	id := "Qwen/Qwen2.5-0.5B-Instruct"
	if SafeName(id) != "Qwen--Qwen2.5-0.5B-Instruct" {
		t.Fatalf("unexpected safe name %q", SafeName(id))
	}
	if ModelIDFromSafeName(SafeName(id)) != id {
		t.Fatalf("safe name does not round trip")
	}
}

func TestValidateModelID(t *testing.T) {
	cases := []struct {
		id string
		ok bool
	}{
		{"Qwen/Qwen2.5-0.5B-Instruct", true},
		{"gpt2", true},
		{"org/name.v2", true},
		{"", false},
		{"  ", false},
		{".", false},
		{"..", false},
		{"a/../..", false},
		{"org/..", false},
		{"./org", false},
		{"org//name", false},
		{"/etc", false},
		{`org\name`, false},
		{`..\..`, false},
	}
	for _, tc := range cases {
		err := ValidateModelID(tc.id)
		if tc.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tc.id, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q: expected rejection", tc.id)
		}
	}
	if err := ValidateModelID(".."); !errors.Is(err, ErrInvalidModelID) {
		t.Fatalf("expected ErrInvalidModelID, got %v", err)
	}
}

func TestEscapingIDsNeverTouchModelsDir(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "models.sqlite"))
	t.Cleanup(func() { _ = reg.Close() })
	tr := newTestTracker(t, &gatedDownloader{release: make(chan struct{})}, &fakeLoader{}, reg)
	seedModel(t, tr, "org/keep")

	ctx := context.Background()
	for _, id := range []string{"..", ".", "a/../..", "org/.."} {
		if err := tr.Remove(ctx, id); !errors.Is(err, ErrInvalidModelID) {
			t.Fatalf("Remove(%q): expected ErrInvalidModelID, got %v", id, err)
		}
		if err := tr.LoadModel(ctx, id); !errors.Is(err, ErrInvalidModelID) {
			t.Fatalf("LoadModel(%q): expected ErrInvalidModelID, got %v", id, err)
		}
		if tr.StartDownload(id) {
			t.Fatalf("StartDownload(%q) should refuse", id)
		}
		if st := tr.Status(id); st.Status != protocol.StatusIdle || st.Error == "" {
			t.Fatalf("Status(%q): expected idle with error, got %#v", id, st)
		}
	}

	if _, err := os.Stat(tr.ModelsDir()); err != nil {
		t.Fatalf("models dir should survive: %v", err)
	}
	if !tr.Downloaded("org/keep") {
		t.Fatalf("seeded model should survive")
	}
}
