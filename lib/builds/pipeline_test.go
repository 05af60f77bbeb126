package builds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/onkernel/iconograph/lib/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeRunner records commands and fails those matching failOn
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := strings.Join(append([]string{name}, args...), " ")
	r.commands = append(r.commands, line)
	if r.failOn != "" && strings.Contains(line, r.failOn) {
		return []byte("E: Unable to locate package"), system.ErrCommandFailed
	}

	if name == "grub-mkrescue" {
		for _, a := range args {
			if out, ok := strings.CutPrefix(a, "--output="); ok {
				if err := os.WriteFile(out, []byte("iso"), 0644); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, nil
}

func (r *fakeRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	_, err := r.Run(ctx, name, args...)
	return err
}

func (r *fakeRunner) has(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// fakeMounter tracks active mounts and logs every operation
type fakeMounter struct {
	mu         sync.Mutex
	active     map[string]bool
	log        []string
	failUmount string
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{active: make(map[string]bool)}
}

func (m *fakeMounter) mount(kind, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[target] = true
	m.log = append(m.log, kind+" "+filepath.Base(target))
	return nil
}

func (m *fakeMounter) MountLoop(ctx context.Context, source, target string) error {
	return m.mount("loop", target)
}

func (m *fakeMounter) MountTmpfs(ctx context.Context, target string) error {
	return m.mount("tmpfs", target)
}

func (m *fakeMounter) MountOverlay(ctx context.Context, opts system.OverlayOptions, target string) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	return m.mount("overlay", target)
}

func (m *fakeMounter) Unmount(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, "umount "+filepath.Base(target))
	if m.failUmount != "" && filepath.Base(target) == m.failUmount {
		return errors.New("target is busy")
	}
	delete(m.active, target)
	return nil
}

func (m *fakeMounter) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	out := t.TempDir()
	return Config{
		SourceISO: "base.iso",
		DestISO:   filepath.Join(out, "new.iso"),
		Arch:      "amd64",
		Release:   "focal",
		WorkDir:   t.TempDir(),
	}
}

func newTestPipeline(t *testing.T, runner *fakeRunner, mounter *fakeMounter) *Pipeline {
	t.Helper()
	p, err := NewPipeline(runner, mounter, nil, nil)
	require.NoError(t, err)
	p.isTerminal = func() bool { return true }
	return p
}

func workDirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestBuild_Success(t *testing.T) {
	runner := &fakeRunner{}
	mounter := newFakeMounter()
	p := newTestPipeline(t, runner, mounter)
	cfg := testConfig(t)

	require.NoError(t, p.Build(context.Background(), cfg))

	_, err := os.Stat(cfg.DestISO)
	require.NoError(t, err, "destination written")
	_, err = os.Stat(cfg.DestISO + ".partial")
	assert.True(t, os.IsNotExist(err))

	assert.True(t, runner.has("debootstrap --variant=buildd --arch amd64 focal "))
	assert.True(t, runner.has("chroot "))
	assert.True(t, runner.has("mksquashfs "))
	assert.True(t, runner.has("grub-mkrescue --output="))

	// Every mount released, in reverse order
	assert.Equal(t, 0, mounter.activeCount())
	assert.Equal(t, []string{
		"loop iso", "tmpfs tmpfs", "overlay union",
		"umount union", "umount tmpfs", "umount iso",
	}, mounter.log)

	// Work tree removed
	assert.Empty(t, workDirEntries(t, cfg.WorkDir))
}

func TestBuild_CommandOrder(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, runner, newFakeMounter())
	cfg := testConfig(t)
	cfg.Packages = []string{"git", "sudo"}
	cfg.CompanionRepo = "https://example.com/tools.git"

	require.NoError(t, p.Build(context.Background(), cfg))

	require.Len(t, runner.commands, 6)
	assert.True(t, strings.HasPrefix(runner.commands[0], "debootstrap "))
	assert.True(t, strings.HasSuffix(runner.commands[0], "/chroot "+DefaultMirror))
	assert.True(t, strings.HasSuffix(runner.commands[1], "/chroot apt-get install --assume-yes git sudo"))
	assert.True(t, strings.HasSuffix(runner.commands[2], "/chroot apt-get clean"))
	assert.True(t, strings.HasSuffix(runner.commands[3], "/chroot git clone https://example.com/tools.git"))
	assert.True(t, strings.HasSuffix(runner.commands[4], "/union/casper/filesystem.squashfs -noappend"))
	assert.True(t, strings.HasPrefix(runner.commands[5], "grub-mkrescue --output="+cfg.DestISO+".partial "))
}

func TestBuild_PackageInstallFailureTearsDown(t *testing.T) {
	runner := &fakeRunner{failOn: "apt-get install"}
	mounter := newFakeMounter()
	p := newTestPipeline(t, runner, mounter)
	cfg := testConfig(t)

	err := p.Build(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, system.ErrCommandFailed)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePackages, stageErr.Stage)

	// Zero mounts remain, released in reverse order
	assert.Equal(t, 0, mounter.activeCount())
	assert.Equal(t, []string{"umount union", "umount tmpfs", "umount iso"}, mounter.log[3:])

	// No destination, no later stages
	_, statErr := os.Stat(cfg.DestISO)
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, runner.has("mksquashfs"))
	assert.False(t, runner.has("grub-mkrescue"))
	assert.Empty(t, workDirEntries(t, cfg.WorkDir))
}

func TestBuild_BootstrapFailureOnlyRemovesWorkDir(t *testing.T) {
	runner := &fakeRunner{failOn: "debootstrap"}
	mounter := newFakeMounter()
	p := newTestPipeline(t, runner, mounter)
	cfg := testConfig(t)

	err := p.Build(context.Background(), cfg)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageBootstrap, stageErr.Stage)

	assert.Empty(t, mounter.log)
	assert.Empty(t, workDirEntries(t, cfg.WorkDir))
}

func TestBuild_AssembleFailureLeavesNoOutput(t *testing.T) {
	runner := &fakeRunner{failOn: "grub-mkrescue"}
	mounter := newFakeMounter()
	p := newTestPipeline(t, runner, mounter)
	cfg := testConfig(t)

	err := p.Build(context.Background(), cfg)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAssemble, stageErr.Stage)

	_, statErr := os.Stat(cfg.DestISO)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(cfg.DestISO + ".partial")
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 0, mounter.activeCount())
}

func TestBuild_TeardownFailureDoesNotMaskStageError(t *testing.T) {
	runner := &fakeRunner{failOn: "mksquashfs"}
	mounter := newFakeMounter()
	mounter.failUmount = "tmpfs"
	p := newTestPipeline(t, runner, mounter)
	cfg := testConfig(t)

	err := p.Build(context.Background(), cfg)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageSquash, stageErr.Stage)
	assert.Contains(t, err.Error(), "target is busy")

	// The remaining mounts were still released
	assert.Contains(t, mounter.log, "umount iso")
	assert.Equal(t, 1, mounter.activeCount())

	// Work tree kept because something may still be mounted in it
	assert.Len(t, workDirEntries(t, cfg.WorkDir), 1)
}

func TestBuild_ShellRequiresTerminal(t *testing.T) {
	runner := &fakeRunner{}
	mounter := newFakeMounter()
	p := newTestPipeline(t, runner, mounter)
	p.isTerminal = func() bool { return false }
	cfg := testConfig(t)
	cfg.Shell = true

	err := p.Build(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrNotATerminal)
	assert.Equal(t, 0, mounter.activeCount())
}

func TestBuild_ShellRunsInChroot(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, runner, newFakeMounter())
	cfg := testConfig(t)
	cfg.Shell = true

	require.NoError(t, p.Build(context.Background(), cfg))

	var shellAt, squashAt int
	for i, c := range runner.commands {
		if strings.HasSuffix(c, "/chroot bash") {
			shellAt = i
		}
		if strings.HasPrefix(c, "mksquashfs") {
			squashAt = i
		}
	}
	assert.NotZero(t, shellAt)
	assert.Less(t, shellAt, squashAt)
}

func TestBuild_InvalidConfig(t *testing.T) {
	p := newTestPipeline(t, &fakeRunner{}, newFakeMounter())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing source", func(c *Config) { c.SourceISO = "" }},
		{"missing dest", func(c *Config) { c.DestISO = "" }},
		{"missing release", func(c *Config) { c.Release = "" }},
		{"empty packages", func(c *Config) { c.Packages = []string{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			assert.ErrorIs(t, p.Build(context.Background(), cfg), ErrInvalidConfig)
		})
	}
}

func TestBuild_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	p, err := NewPipeline(&fakeRunner{}, newFakeMounter(), nil, provider.Meter("test"))
	require.NoError(t, err)
	require.NoError(t, p.Build(context.Background(), testConfig(t)))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["iconograph_builds_total"])
	assert.True(t, names["iconograph_build_duration_seconds"])
	assert.True(t, names["iconograph_build_stage_duration_seconds"])
}
