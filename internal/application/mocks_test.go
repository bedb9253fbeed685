package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// --- Mock implementations ---

type finalizeCall struct {
	BuildID string
	Success bool
	Elapsed time.Duration
}

type uploadCall struct {
	BuildID string
	Name    string
	Image   []byte
}

type mockBuildAPI struct {
	mu        sync.Mutex
	createErr error
	finalErr  error
	uploadErr error
	remote    model.RemoteBuild
	states    []model.RemoteBuildState
	getErr    error
	creates   []model.RemoteBuildMetadata
	finalizes []finalizeCall
	uploads   []uploadCall
	gets      int

	// beforeUpload, when set, runs at the start of UploadScreenshot.
	beforeUpload func()
}

func (m *mockBuildAPI) CreateBuild(_ context.Context, meta model.RemoteBuildMetadata) (model.RemoteBuild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, meta)
	if m.createErr != nil {
		return model.RemoteBuild{}, m.createErr
	}
	remote := m.remote
	if remote.ID == "" {
		remote = model.RemoteBuild{ID: "remote-1", URL: "https://app.shotrun.dev/builds/remote-1"}
	}
	return remote, nil
}

func (m *mockBuildAPI) FinalizeBuild(_ context.Context, buildID string, success bool, elapsed time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizes = append(m.finalizes, finalizeCall{BuildID: buildID, Success: success, Elapsed: elapsed})
	if m.finalErr != nil {
		return "", m.finalErr
	}
	if success {
		return "completed", nil
	}
	return "failed", nil
}

func (m *mockBuildAPI) UploadScreenshot(_ context.Context, buildID, name string, image []byte, _ model.ScreenshotProperties) (model.UploadAck, error) {
	if m.beforeUpload != nil {
		m.beforeUpload()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return model.UploadAck{}, m.uploadErr
	}
	m.uploads = append(m.uploads, uploadCall{BuildID: buildID, Name: name, Image: image})
	return model.UploadAck{ID: "upload-" + name}, nil
}

func (m *mockBuildAPI) GetBuild(_ context.Context, buildID string) (model.RemoteBuildState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return model.RemoteBuildState{}, m.getErr
	}
	if len(m.states) == 0 {
		return model.RemoteBuildState{ID: buildID}, nil
	}
	state := m.states[0]
	if len(m.states) > 1 {
		m.states = m.states[1:]
	}
	return state, nil
}

func (m *mockBuildAPI) finalizeCalls() []finalizeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]finalizeCall(nil), m.finalizes...)
}

type mockBuildStore struct {
	mu      sync.Mutex
	saveErr error
	saved   []model.Build
	byID    map[string]model.Build
	deleted []string
}

func (m *mockBuildStore) Save(_ context.Context, b model.Build) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, b)
	if m.byID == nil {
		m.byID = map[string]model.Build{}
	}
	m.byID[b.ID] = b
	return nil
}

func (m *mockBuildStore) GetByID(_ context.Context, id string) (*model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *mockBuildStore) ListRecent(_ context.Context, limit int) ([]model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Build
	for i := len(m.saved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.saved[i])
	}
	return out, nil
}

func (m *mockBuildStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	delete(m.byID, id)
	return nil
}

type mockStatusPublisher struct {
	mu        sync.Mutex
	err       error
	published []model.CommitStatus
}

func (m *mockStatusPublisher) PublishStatus(_ context.Context, s model.CommitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, s)
	return m.err
}

type mockScreenshotStore struct {
	mu           sync.Mutex
	putErr       error
	rmErr        error
	puts         []string
	removed      []string
	removedPaths []string

	// beforePut, when set, runs at the start of Put.
	beforePut func()
}

func (m *mockScreenshotStore) Put(_ context.Context, buildID, name string, _ []byte) (string, error) {
	if m.beforePut != nil {
		m.beforePut()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	path := "/shots/" + buildID + "/" + name + ".png"
	m.puts = append(m.puts, path)
	return path, nil
}

func (m *mockScreenshotStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedPaths = append(m.removedPaths, path)
	return nil
}

func (m *mockScreenshotStore) RemoveBuild(_ context.Context, buildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rmErr != nil {
		return m.rmErr
	}
	m.removed = append(m.removed, buildID)
	return nil
}

// eventRecorder collects events delivered by a bus subscription.
type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *eventRecorder) handle(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofKind(kind model.EventKind) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
