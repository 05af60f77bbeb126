package fleet

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/onkernel/iconograph/lib/images"
	"github.com/onkernel/iconograph/lib/logger"
	"github.com/onkernel/iconograph/lib/system"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// State is the control channel state of the agent
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateSynced       State = "synced"
)

const (
	DefaultReportInterval = 5 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
)

// Fetcher installs published images
type Fetcher interface {
	Fetch(ctx context.Context, imageType string, timestamp *int64) (*images.Image, error)
	DeleteOldImages(ctx context.Context, skip images.RetainSet) ([]images.Image, error)
}

// BootConfigurator regenerates the boot menu
type BootConfigurator interface {
	Generate(ctx context.Context) error
}

// ImageSource resolves the next-boot image
type ImageSource interface {
	Current(ctx context.Context) (*images.Image, error)
}

// Config configures an Agent
type Config struct {
	// URL is the control channel endpoint, e.g. wss://server/ws/slave
	URL string
	TLS *tls.Config

	// ImageType is the node role; the agent only follows manifests for it
	ImageType string

	// NodeConfig holds static fields echoed in every report
	NodeConfig map[string]any

	// Hostname defaults to os.Hostname()
	Hostname string

	ReportInterval time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Snapshot is a point-in-time view of the agent
type Snapshot struct {
	State     State      `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	ImageType string     `json:"image_type"`
	Status    string     `json:"status,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// Agent keeps a node's images in line with the fleet server
type Agent struct {
	cfg      Config
	fetcher  Fetcher
	boot     BootConfigurator
	store    ImageSource
	rebooter system.Rebooter
	uptime   func() (time.Duration, error)
	logger   *slog.Logger
	metrics  *Metrics

	// cycleMu serializes every store mutation: update cycles and pinned reboots
	cycleMu  sync.Mutex
	rebooted bool
	// updates holds at most one pending update request
	updates chan struct{}

	mu        sync.Mutex
	state     State
	sessionID string
	status    string
	lastSync  time.Time
}

// NewAgent creates a fleet agent. rebooter, log and meter may be nil.
func NewAgent(cfg Config, fetcher Fetcher, boot BootConfigurator, store ImageSource, rebooter system.Rebooter, log *slog.Logger, meter metric.Meter) (*Agent, error) {
	switch {
	case cfg.URL == "":
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	case cfg.ImageType == "":
		return nil, fmt.Errorf("%w: image type is required", ErrInvalidConfig)
	case fetcher == nil || boot == nil || store == nil:
		return nil, fmt.Errorf("%w: fetcher, boot configurator and image source are required", ErrInvalidConfig)
	}

	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("get hostname: %w", err)
		}
		cfg.Hostname = hostname
	}
	if rebooter == nil {
		rebooter = system.SyscallRebooter{}
	}
	if log == nil {
		log = slog.Default()
	}

	a := &Agent{
		cfg:      cfg,
		fetcher:  fetcher,
		boot:     boot,
		store:    store,
		rebooter: rebooter,
		uptime:   system.Uptime,
		logger:   log,
		updates:  make(chan struct{}, 1),
		state:    StateDisconnected,
	}

	if meter != nil {
		metrics, err := NewMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		a.metrics = metrics
	}

	return a, nil
}

// Snapshot returns the current agent state
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		State:     a.state,
		SessionID: a.sessionID,
		ImageType: a.cfg.ImageType,
		Status:    a.status,
	}
	if !a.lastSync.IsZero() {
		s.LastSync = lo.ToPtr(a.lastSync)
	}
	return s
}

func (a *Agent) setState(state State, sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
	a.sessionID = sessionID
}

func (a *Agent) setStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

// markUnsynced drops back to connected after a failed cycle
func (a *Agent) markUnsynced(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateSynced {
		a.state = StateConnected
	}
	a.status = status
}

func (a *Agent) markSynced() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateConnected {
		a.state = StateSynced
	}
	a.status = ""
	a.lastSync = time.Now()
}

// Run keeps a control channel session open until ctx is cancelled or a
// reboot has been issued. Lost sessions are redialed with exponential backoff.
func (a *Agent) Run(ctx context.Context) error {
	ctx = logger.AddToContext(ctx, a.logger)

	for {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = a.cfg.InitialBackoff
		b.MaxInterval = a.cfg.MaxBackoff

		conn, err := backoff.Retry(ctx, func() (*Conn, error) {
			return a.connect(ctx)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				a.logger.WarnContext(ctx, "control channel dial failed", "error", err, "retry_in", next)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = a.session(ctx, conn)
		a.setState(StateDisconnected, "")

		switch {
		case errors.Is(err, ErrRebooted):
			a.logger.InfoContext(ctx, "agent stopped after reboot")
			return nil
		case ctx.Err() != nil:
			return nil
		}
		a.logger.WarnContext(ctx, "control channel lost", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.InitialBackoff):
		}
	}
}

func (a *Agent) connect(ctx context.Context) (*Conn, error) {
	conn, err := Dial(ctx, a.cfg.URL, a.cfg.TLS)
	if a.metrics != nil {
		a.metrics.RecordConnect(ctx, lo.Ternary(err == nil, "success", "failed"))
	}
	return conn, err
}

// session runs the reader, reporter and update worker until one of them fails
func (a *Agent) session(ctx context.Context, conn *Conn) error {
	log := a.logger.With("session", conn.ID())
	ctx = logger.AddToContext(ctx, log)

	a.setState(StateConnected, conn.ID())
	log.InfoContext(ctx, "control channel connected", "url", a.cfg.URL)

	g, gctx := errgroup.WithContext(ctx)
	synced := make(chan struct{})

	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	g.Go(func() error { return a.readLoop(gctx, conn) })
	g.Go(func() error { return a.updateLoop(gctx, synced) })
	g.Go(func() error { return a.reportLoop(gctx, conn, synced) })

	return g.Wait()
}

func (a *Agent) readLoop(ctx context.Context, conn *Conn) error {
	log := logger.FromContext(ctx)

	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrUnknownMessageType) {
				log.WarnContext(ctx, "ignoring message", "error", err)
				continue
			}
			return err
		}
		if a.metrics != nil {
			a.metrics.RecordMessage(ctx, msg.Type)
		}

		if err := a.handle(ctx, conn, msg); err != nil {
			if errors.Is(err, ErrRebooted) {
				return err
			}
			log.ErrorContext(ctx, "message handler failed", "type", msg.Type, "error", err)
			a.setStatus(err.Error())
		}
	}
}

func (a *Agent) handle(ctx context.Context, conn *Conn, msg Message) error {
	switch msg.Type {
	case TypeImageTypes:
		if !lo.Contains(msg.ImageTypes.ImageTypes, a.cfg.ImageType) {
			return fmt.Errorf("%w: %q not in %v", ErrUnknownImageType, a.cfg.ImageType, msg.ImageTypes.ImageTypes)
		}
	case TypeNewManifest:
		if msg.NewManifest.ImageType != a.cfg.ImageType {
			logger.FromContext(ctx).DebugContext(ctx, "ignoring manifest for other image type", "image_type", msg.NewManifest.ImageType)
			return nil
		}
		a.requestUpdate()
	case TypeCommand:
		switch msg.Command.Command {
		case CommandReboot:
			return a.reboot(ctx, conn, msg.Command.Timestamp)
		default:
			logger.FromContext(ctx).WarnContext(ctx, "ignoring unknown command", "command", msg.Command.Command)
		}
	}
	return nil
}

// requestUpdate schedules an update cycle. Requests made while one is
// already pending are merged into it.
func (a *Agent) requestUpdate() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}

func (a *Agent) updateLoop(ctx context.Context, synced chan<- struct{}) error {
	// The initial sync covers anything left over from a previous session
	select {
	case <-a.updates:
	default:
	}

	a.runCycle(ctx)
	close(synced)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.updates:
			a.runCycle(ctx)
		}
	}
}

func (a *Agent) runCycle(ctx context.Context) {
	log := logger.FromContext(ctx)
	start := time.Now()

	// A started cycle runs to completion even if the session ends
	err := a.updateCycle(context.WithoutCancel(ctx))
	if errors.Is(err, ErrRebooted) {
		return
	}

	status := "success"
	if err != nil {
		status = "failed"
		log.ErrorContext(ctx, "update cycle failed", "error", err, "duration", time.Since(start))
		a.markUnsynced(err.Error())
	} else {
		log.InfoContext(ctx, "update cycle finished", "duration", time.Since(start))
		a.markSynced()
	}
	if a.metrics != nil {
		a.metrics.RecordCycle(ctx, status, time.Since(start))
	}
}

// updateCycle fetches the latest image, prunes and regenerates the boot menu
func (a *Agent) updateCycle(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	if a.rebooted {
		return ErrRebooted
	}

	img, err := a.fetcher.Fetch(ctx, a.cfg.ImageType, nil)
	if err != nil {
		return fmt.Errorf("fetch latest image: %w", err)
	}
	if _, err := a.fetcher.DeleteOldImages(ctx, images.NewRetainSet(img.Timestamp)); err != nil {
		return fmt.Errorf("delete old images: %w", err)
	}
	if err := a.boot.Generate(ctx); err != nil {
		return fmt.Errorf("regenerate boot config: %w", err)
	}
	return nil
}

// reboot optionally switches to a pinned image, reports and reboots. The
// cycle lock is held throughout so no update cycle can move the pointer.
func (a *Agent) reboot(ctx context.Context, conn *Conn, timestamp *int64) error {
	log := logger.FromContext(ctx)
	opCtx := context.WithoutCancel(ctx)

	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	status := "Rebooting..."
	if timestamp != nil {
		if _, err := a.fetcher.Fetch(opCtx, a.cfg.ImageType, timestamp); err != nil {
			return fmt.Errorf("fetch image %d: %w", *timestamp, err)
		}
		if err := a.boot.Generate(opCtx); err != nil {
			return fmt.Errorf("regenerate boot config: %w", err)
		}
		status = fmt.Sprintf("Rebooting into %d...", *timestamp)
	}

	if err := a.sendReport(opCtx, conn, status); err != nil {
		log.WarnContext(ctx, "failed to report reboot", "error", err)
	}

	log.InfoContext(ctx, "rebooting", "status", status)
	if err := a.rebooter.Reboot(opCtx); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	a.rebooted = true
	return ErrRebooted
}

func (a *Agent) reportLoop(ctx context.Context, conn *Conn, synced <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return nil
	case <-synced:
	}

	ticker := time.NewTicker(a.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		if err := a.sendReport(ctx, conn, ""); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// buildReport computes the current report. status overrides the agent status.
func (a *Agent) buildReport(ctx context.Context, status string) Report {
	log := logger.FromContext(ctx)

	r := Report{
		Hostname: a.cfg.Hostname,
		Status:   lo.CoalesceOrEmpty(status, a.Snapshot().Status),
		Extra:    a.cfg.NodeConfig,
	}
	if up, err := a.uptime(); err == nil {
		r.UptimeSeconds = int64(up.Seconds())
	} else {
		log.DebugContext(ctx, "uptime unavailable", "error", err)
	}
	if img, err := a.store.Current(ctx); err == nil {
		r.NextTimestamp = img.Timestamp
		r.NextVolumeID = img.VolumeID
	} else {
		log.WarnContext(ctx, "next-boot image unknown", "error", err)
	}
	return r
}

func (a *Agent) sendReport(ctx context.Context, conn *Conn, status string) error {
	data, err := EncodeReport(a.buildReport(ctx, status))
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordReport(ctx)
	}
	return nil
}
