package builds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/onkernel/iconograph/lib/builds/templates"
	"github.com/onkernel/iconograph/lib/logger"
	"github.com/onkernel/iconograph/lib/resources"
	"github.com/onkernel/iconograph/lib/system"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/term"
)

// Stage names one step of the pipeline
type Stage string

const (
	StageBootstrap Stage = "bootstrap"
	StageUnion     Stage = "union"
	StagePackages  Stage = "packages"
	StageCompanion Stage = "companion"
	StageShell     Stage = "shell"
	StageSquash    Stage = "squash"
	StageGrub      Stage = "grub"
	StageAssemble  Stage = "assemble"
)

// Pipeline builds a bootable ISO from a base ISO
type Pipeline struct {
	runner     system.Runner
	mounter    system.Mounter
	logger     *slog.Logger
	metrics    *Metrics
	isTerminal func() bool
}

// NewPipeline creates a build pipeline. meter may be nil.
func NewPipeline(runner system.Runner, mounter system.Mounter, log *slog.Logger, meter metric.Meter) (*Pipeline, error) {
	if runner == nil {
		runner = system.NewExecRunner()
	}
	if mounter == nil {
		mounter = system.NewHostMounter(runner)
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{
		runner:  runner,
		mounter: mounter,
		logger:  log,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}

	if meter != nil {
		metrics, err := NewMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		p.metrics = metrics
	}

	return p, nil
}

// build holds the paths of one run
type build struct {
	cfg    Config
	stack  *resources.Stack
	root   string
	chroot string
	iso    string
	tmpfs  string
	union  string
	// leaked is set when an unmount fails, so the work tree is not removed
	// while something may still be mounted inside it
	leaked bool
}

// Build runs every stage in order. Whatever the outcome, all mounts and the
// work tree are released before returning; DestISO exists only on success.
func (p *Pipeline) Build(ctx context.Context, cfg Config) (err error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx = logger.AddToContext(ctx, p.logger)
	start := time.Now()
	b := &build{cfg: cfg, stack: resources.NewStack()}

	defer func() {
		if releaseErr := b.stack.ReleaseAll(ctx); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("teardown: %w", releaseErr))
		}
		status := "success"
		if err != nil {
			status = "failed"
			p.logger.ErrorContext(ctx, "build failed", "dest", cfg.DestISO, "error", err, "duration", time.Since(start))
		}
		if p.metrics != nil {
			p.metrics.RecordBuild(ctx, status, time.Since(start))
		}
	}()

	stages := []struct {
		name Stage
		run  func(context.Context, *build) error
	}{
		{StageBootstrap, p.bootstrap},
		{StageUnion, p.createUnion},
		{StagePackages, p.installPackages},
		{StageCompanion, p.installCompanion},
		{StageShell, p.shell},
		{StageSquash, p.squash},
		{StageGrub, p.installGrubTemplate},
		{StageAssemble, p.assemble},
	}

	for _, s := range stages {
		stageStart := time.Now()
		p.logger.InfoContext(ctx, "build stage started", "stage", s.name)
		if err := s.run(ctx, b); err != nil {
			if p.metrics != nil {
				p.metrics.RecordStage(ctx, s.name, "failed", time.Since(stageStart))
			}
			return &StageError{Stage: s.name, Err: err}
		}
		if p.metrics != nil {
			p.metrics.RecordStage(ctx, s.name, "success", time.Since(stageStart))
		}
		p.logger.InfoContext(ctx, "build stage finished", "stage", s.name, "duration", time.Since(stageStart))
	}

	p.logger.InfoContext(ctx, "build finished", "dest", cfg.DestISO, "duration", time.Since(start))
	return nil
}

func (p *Pipeline) chroot(ctx context.Context, b *build, args ...string) error {
	name, full := system.Chroot(b.chroot, args...)
	_, err := p.runner.Run(ctx, name, full...)
	return err
}

// acquireMount registers target for unmounting
func (p *Pipeline) acquireMount(b *build, target string) {
	b.stack.Acquire("mount "+target, func(ctx context.Context) error {
		if err := p.mounter.Unmount(ctx, target); err != nil {
			b.leaked = true
			return err
		}
		return nil
	})
}

func (p *Pipeline) bootstrap(ctx context.Context, b *build) error {
	root, err := os.MkdirTemp(b.cfg.WorkDir, "iconograph-build-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	b.root = root
	b.stack.Acquire("workdir "+root, func(ctx context.Context) error {
		if b.leaked {
			return fmt.Errorf("leaving %s in place: a mount inside it could not be released", root)
		}
		return os.RemoveAll(root)
	})
	p.logger.InfoContext(ctx, "building image", "workdir", root)

	b.chroot = filepath.Join(root, "chroot")
	if err := os.Mkdir(b.chroot, 0755); err != nil {
		return fmt.Errorf("create chroot dir: %w", err)
	}

	_, err = p.runner.Run(ctx, "debootstrap",
		"--variant=buildd",
		"--arch", b.cfg.Arch,
		b.cfg.Release,
		b.chroot,
		b.cfg.Mirror,
	)
	return err
}

func (p *Pipeline) createUnion(ctx context.Context, b *build) error {
	b.iso = filepath.Join(b.root, "iso")
	if err := os.Mkdir(b.iso, 0755); err != nil {
		return fmt.Errorf("create iso dir: %w", err)
	}
	if err := p.mounter.MountLoop(ctx, b.cfg.SourceISO, b.iso); err != nil {
		return err
	}
	p.acquireMount(b, b.iso)

	b.tmpfs = filepath.Join(b.root, "tmpfs")
	if err := os.Mkdir(b.tmpfs, 0755); err != nil {
		return fmt.Errorf("create tmpfs dir: %w", err)
	}
	if err := p.mounter.MountTmpfs(ctx, b.tmpfs); err != nil {
		return err
	}
	p.acquireMount(b, b.tmpfs)

	overlay := system.OverlayOptions{
		LowerDir: b.iso,
		UpperDir: filepath.Join(b.tmpfs, "upper"),
		WorkDir:  filepath.Join(b.tmpfs, "work"),
	}
	for _, dir := range []string{overlay.UpperDir, overlay.WorkDir} {
		if err := os.Mkdir(dir, 0755); err != nil {
			return fmt.Errorf("create overlay dir: %w", err)
		}
	}

	b.union = filepath.Join(b.root, "union")
	if err := os.Mkdir(b.union, 0755); err != nil {
		return fmt.Errorf("create union dir: %w", err)
	}
	if err := p.mounter.MountOverlay(ctx, overlay, b.union); err != nil {
		return err
	}
	p.acquireMount(b, b.union)
	return nil
}

func (p *Pipeline) installPackages(ctx context.Context, b *build) error {
	args := append([]string{"apt-get", "install", "--assume-yes"}, b.cfg.Packages...)
	if err := p.chroot(ctx, b, args...); err != nil {
		return err
	}
	return p.chroot(ctx, b, "apt-get", "clean")
}

func (p *Pipeline) installCompanion(ctx context.Context, b *build) error {
	return p.chroot(ctx, b, "git", "clone", b.cfg.CompanionRepo)
}

func (p *Pipeline) shell(ctx context.Context, b *build) error {
	if !b.cfg.Shell {
		return nil
	}
	if !p.isTerminal() {
		return ErrNotATerminal
	}
	name, args := system.Chroot(b.chroot, "bash")
	return p.runner.RunInteractive(ctx, name, args...)
}

func (p *Pipeline) squash(ctx context.Context, b *build) error {
	dest := filepath.Join(b.union, "casper", "filesystem.squashfs")
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create casper dir: %w", err)
	}
	_, err := p.runner.Run(ctx, "mksquashfs", b.chroot, dest, "-noappend")
	return err
}

func (p *Pipeline) installGrubTemplate(ctx context.Context, b *build) error {
	_, err := templates.InstallLoopback(b.union)
	return err
}

func (p *Pipeline) assemble(ctx context.Context, b *build) error {
	partial := b.cfg.DestISO + ".partial"
	b.stack.Acquire("partial "+partial, func(ctx context.Context) error {
		if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})

	if _, err := p.runner.Run(ctx, "grub-mkrescue", "--output="+partial, b.union); err != nil {
		return err
	}
	if err := os.Rename(partial, b.cfg.DestISO); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}

	if info, err := os.Stat(b.cfg.DestISO); err == nil {
		p.logger.InfoContext(ctx, "image written", "dest", b.cfg.DestISO, "size", datasize.ByteSize(info.Size()).HR())
	}
	return nil
}
