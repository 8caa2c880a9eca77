package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/vclsync/internal/config"
	"github.com/schaermu/vclsync/internal/fastly"
	"github.com/schaermu/vclsync/internal/lock"
)

// mockAPI implements fastly.Client for testing and records every call
type mockAPI struct {
	versions    []fastly.Version
	vcls        []fastly.VCL
	cloneNumber int
	validation  fastly.ValidationResult

	listVersionsErr error
	cloneErr        error
	createErr       error
	updateErr       error
	deleteErr       error
	setMainErr      error
	validateErr     error
	activateErr     error

	calls []string
}

func (m *mockAPI) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockAPI) ListVersions(_ context.Context) ([]fastly.Version, error) {
	m.record("ListVersions")
	return m.versions, m.listVersionsErr
}

func (m *mockAPI) ListVCLs(_ context.Context, version int) ([]fastly.VCL, error) {
	m.record("ListVCLs(%d)", version)
	return m.vcls, nil
}

func (m *mockAPI) CloneVersion(_ context.Context, version int) (fastly.Version, error) {
	m.record("CloneVersion(%d)", version)
	return fastly.Version{Number: m.cloneNumber}, m.cloneErr
}

func (m *mockAPI) CreateVCL(_ context.Context, version int, name, _ string) error {
	m.record("CreateVCL(%d,%s)", version, name)
	return m.createErr
}

func (m *mockAPI) UpdateVCL(_ context.Context, version int, name, _ string) error {
	m.record("UpdateVCL(%d,%s)", version, name)
	return m.updateErr
}

func (m *mockAPI) DeleteVCL(_ context.Context, version int, name string) error {
	m.record("DeleteVCL(%d,%s)", version, name)
	return m.deleteErr
}

func (m *mockAPI) SetMainVCL(_ context.Context, version int, name string) error {
	m.record("SetMainVCL(%d,%s)", version, name)
	return m.setMainErr
}

func (m *mockAPI) ValidateVersion(_ context.Context, version int) (fastly.ValidationResult, error) {
	m.record("ValidateVersion(%d)", version)
	return m.validation, m.validateErr
}

func (m *mockAPI) ActivateVersion(_ context.Context, version int) (fastly.Version, error) {
	m.record("ActivateVersion(%d)", version)
	return fastly.Version{Number: version, Active: true}, m.activateErr
}

// mutatingCalls returns recorded calls that change remote state
func (m *mockAPI) mutatingCalls() []string {
	var muts []string
	for _, c := range m.calls {
		if !strings.HasPrefix(c, "List") {
			muts = append(muts, c)
		}
	}
	return muts
}

// mockLocker implements lock.Locker for testing
type mockLocker struct {
	acquireErr error
	acquired   bool
	released   bool
	releaseErr error
}

func (m *mockLocker) Acquire(_ context.Context, _ string) (lock.Lease, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.acquired = true
	return &mockLease{locker: m}, nil
}

type mockLease struct {
	locker *mockLocker
}

func (m *mockLease) Release(_ context.Context) error {
	m.locker.released = true
	return m.locker.releaseErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(vclDir string) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Key:       "key",
			ServiceID: "svc",
			BaseURL:   "https://api.example.test",
			MainVCL:   "main",
		},
		Lock: config.LockConfig{
			RedisURL: "redis://localhost:6379",
			Name:     "vclsync:deploy:svc",
			TTL:      config.Duration(time.Minute),
		},
		Local: config.LocalConfig{VCLDir: vclDir},
	}
}

func writeVCLDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRun_NoLocalFiles(t *testing.T) {
	api := &mockAPI{}
	locker := &mockLocker{}
	engine := NewEngine(testConfig(t.TempDir()), api, locker, testLogger(), false)

	err := engine.Run(context.Background())
	if !errors.Is(err, ErrNoLocalFiles) {
		t.Fatalf("Run() error = %v, want ErrNoLocalFiles", err)
	}

	// Guard fires before any remote call and before taking the lock
	if len(api.calls) != 0 {
		t.Errorf("remote calls made despite empty local set: %v", api.calls)
	}
	if locker.acquired {
		t.Error("lock acquired despite empty local set")
	}
}

func TestRun_NoOpShortCircuit(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"main.vcl": "A", "errors.vcl": "E"})

	api := &mockAPI{
		versions: []fastly.Version{{Number: 1}, {Number: 2, Active: true}},
		vcls:     []fastly.VCL{{Name: "main", Content: "A"}, {Name: "errors", Content: "E"}},
	}
	locker := &mockLocker{}
	engine := NewEngine(testConfig(dir), api, locker, testLogger(), false)

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if muts := api.mutatingCalls(); len(muts) != 0 {
		t.Errorf("mutating calls on no-op run: %v", muts)
	}
	if !locker.acquired || !locker.released {
		t.Errorf("lock acquired=%v released=%v, want both", locker.acquired, locker.released)
	}
}

func TestRun_FullDeploy(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{
		"main.vcl":  "A2",
		"extra.vcl": "B",
	})

	api := &mockAPI{
		versions:    []fastly.Version{{Number: 3, Active: true}},
		vcls:        []fastly.VCL{{Name: "main", Content: "A"}, {Name: "old", Content: "Z"}},
		cloneNumber: 4,
		validation:  fastly.ValidationResult{Status: "ok"},
	}
	locker := &mockLocker{}
	engine := NewEngine(testConfig(dir), api, locker, testLogger(), false)

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := []string{
		"ListVersions",
		"ListVCLs(3)",
		"CloneVersion(3)",
		"CreateVCL(4,extra)",
		"UpdateVCL(4,main)",
		"DeleteVCL(4,old)",
		"SetMainVCL(4,main)",
		"ValidateVersion(4)",
		"ActivateVersion(4)",
	}
	if len(api.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", api.calls, want)
	}
	for i := range want {
		if api.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, api.calls[i], want[i])
		}
	}

	if !locker.released {
		t.Error("lock not released after successful deploy")
	}
}

func TestRun_SkipsMainDesignationWithoutMainFile(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"edge.vcl": "X"})

	api := &mockAPI{
		versions:    []fastly.Version{{Number: 1, Active: true}},
		vcls:        nil,
		cloneNumber: 2,
		validation:  fastly.ValidationResult{Status: "ok"},
	}
	engine := NewEngine(testConfig(dir), api, &mockLocker{}, testLogger(), false)

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	for _, c := range api.calls {
		if c == "SetMainVCL(2,main)" {
			t.Error("SetMainVCL called although no local main file exists")
		}
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"main.vcl": "broken"})

	api := &mockAPI{
		versions:    []fastly.Version{{Number: 1, Active: true}},
		vcls:        []fastly.VCL{{Name: "main", Content: "ok"}},
		cloneNumber: 2,
		validation:  fastly.ValidationResult{Status: "error", Message: "syntax error at line 1"},
	}
	locker := &mockLocker{}
	engine := NewEngine(testConfig(dir), api, locker, testLogger(), false)

	err := engine.Run(context.Background())
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("Run() error = %v, want ErrValidationFailed", err)
	}

	// The server's raw response is embedded in the failure message
	if got := err.Error(); !strings.Contains(got, "syntax error at line 1") {
		t.Errorf("error %q does not embed the validation message", got)
	}

	// The invalid clone is never activated and the lock is still released
	for _, c := range api.calls {
		if c == "ActivateVersion(2)" {
			t.Error("invalid version was activated")
		}
	}
	if !locker.released {
		t.Error("lock not released after validation failure")
	}
}

func TestRun_ApplyFailureAborts(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"main.vcl": "A", "extra.vcl": "B"})

	api := &mockAPI{
		versions:    []fastly.Version{{Number: 1, Active: true}},
		vcls:        []fastly.VCL{{Name: "main", Content: "A"}},
		cloneNumber: 2,
		createErr:   errors.New("boom"),
	}
	locker := &mockLocker{}
	engine := NewEngine(testConfig(dir), api, locker, testLogger(), false)

	err := engine.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail when a create fails")
	}

	// Nothing past the failed operation runs
	last := api.calls[len(api.calls)-1]
	if last != "CreateVCL(2,extra)" {
		t.Errorf("last call = %q, want the failed create", last)
	}
	if !locker.released {
		t.Error("lock not released after apply failure")
	}
}

func TestRun_LockHeld(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"main.vcl": "A"})

	api := &mockAPI{}
	locker := &mockLocker{acquireErr: lock.ErrLockHeld}
	engine := NewEngine(testConfig(dir), api, locker, testLogger(), false)

	err := engine.Run(context.Background())
	if !errors.Is(err, lock.ErrLockHeld) {
		t.Fatalf("Run() error = %v, want ErrLockHeld", err)
	}
	if len(api.calls) != 0 {
		t.Errorf("remote calls made without holding the lock: %v", api.calls)
	}
}

func TestRun_NoActiveVersion(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"main.vcl": "A"})

	for _, tc := range []struct {
		name     string
		versions []fastly.Version
		wantErr  error
	}{
		{
			name:     "zero active",
			versions: []fastly.Version{{Number: 1}, {Number: 2}},
			wantErr:  fastly.ErrNoActiveVersion,
		},
		{
			name:     "multiple active",
			versions: []fastly.Version{{Number: 1, Active: true}, {Number: 2, Active: true}},
			wantErr:  fastly.ErrMultipleActiveVersions,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			api := &mockAPI{versions: tc.versions}
			locker := &mockLocker{}
			engine := NewEngine(testConfig(dir), api, locker, testLogger(), false)

			err := engine.Run(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tc.wantErr)
			}
			if muts := api.mutatingCalls(); len(muts) != 0 {
				t.Errorf("mutating calls made: %v", muts)
			}
			if !locker.released {
				t.Error("lock not released after fatal active-version error")
			}
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	dir := writeVCLDir(t, map[string]string{"main.vcl": "A2"})

	api := &mockAPI{
		versions: []fastly.Version{{Number: 1, Active: true}},
		vcls:     []fastly.VCL{{Name: "main", Content: "A"}},
	}
	locker := &mockLocker{}
	engine := NewEngine(testConfig(dir), api, locker, testLogger(), true)

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if muts := api.mutatingCalls(); len(muts) != 0 {
		t.Errorf("dry-run issued mutating calls: %v", muts)
	}
	if locker.acquired {
		t.Error("dry-run took the deploy lock")
	}
}

