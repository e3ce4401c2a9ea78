// Package cli implements the logistics command tree. Every command loads the
// configuration once, tags its log lines with a run id and pushes run
// metrics when a gateway is configured.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logistics/internal/blob"
	"logistics/internal/config"
	"logistics/internal/fulfillment"
	"logistics/internal/logging"
	"logistics/internal/metrics"
	"logistics/internal/redcap"
	"logistics/internal/sheets"
	"logistics/pkg/domain"
)

// RootOptions holds the persistent flags.
type RootOptions struct {
	ConfigFile string
	EnvFiles   []string
	LogLevel   string
	LogFormat  string
	DataDir    string
}

// RecordsClient reads reports from and writes records back to the records
// platform.
type RecordsClient interface {
	FetchReport(ctx context.Context, p config.Project, reportID string) (domain.Table, error)
	ImportRecords(ctx context.Context, p config.Project, records []map[string]string, batchSize int) (int, error)
}

// Deps are the collaborators a command needs from outside the process. Zero
// fields fall back to the production implementations.
type Deps struct {
	Getenv      func(string) string
	Now         func() time.Time
	Logger      *zap.Logger
	Records     func(cfg config.Config, logger *zap.Logger) RecordsClient
	OpenBlob    func(ctx context.Context, cfg config.Storage) (blob.Store, error)
	OpenSheets  func(ctx context.Context, cfg config.Sheets) (domain.SheetStore, error)
	CarrierHTTP *http.Client
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Records == nil {
		d.Records = func(cfg config.Config, logger *zap.Logger) RecordsClient {
			rc := redcap.DefaultConfig()
			rc.Timeout = cfg.RecordsTimeout
			return redcap.NewClient(rc, logger)
		}
	}
	if d.OpenBlob == nil {
		d.OpenBlob = blob.Open
	}
	if d.OpenSheets == nil {
		d.OpenSheets = sheets.Open
	}
	return d
}

// NewRootCommand builds the logistics command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &RootOptions{}
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "logistics",
		Short: "Kit logistics order automation",
		Long: `Derives kit delivery, pickup and replenishment orders from study records,
writes carrier order files, uploads them to object storage, reconciles return
tracking numbers and refreshes the dashboard sheets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "project YAML file (embedded defaults when empty)")
	cmd.PersistentFlags().StringArrayVar(&opts.EnvFiles, "env-file", nil, "dotenv file with credentials (repeatable)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|console)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory for order files")

	cmd.AddCommand(newOrdersCommand(opts, deps))
	cmd.AddCommand(newReturnsCommand(opts, deps))
	cmd.AddCommand(newUploadCommand(opts, deps))
	cmd.AddCommand(newDashboardsCommand(opts, deps))
	return cmd
}

// session is one command invocation.
type session struct {
	name     string
	cfg      config.Config
	logger   *zap.Logger
	recorder *metrics.Recorder
	deps     Deps
	started  time.Time
}

func (o *RootOptions) open(name string, deps Deps) (*session, error) {
	cfg, err := config.Load(config.LoadOptions{
		ProjectsFile: o.ConfigFile,
		EnvFiles:     o.EnvFiles,
		Getenv:       deps.Getenv,
	})
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if cfg.Sheets.Driver == sheets.DriverSQLite && cfg.Sheets.DSN == "" {
		cfg.Sheets.DSN = filepath.Join(cfg.DataDir, dashboardsDB)
	}

	runID := uuid.NewString()
	logger := deps.Logger
	if logger != nil {
		logger = logger.With(zap.String("run_id", runID))
	} else if logger, err = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, RunID: runID}); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("command", name))
	for project, perr := range cfg.Invalid {
		logger.Warn("project configuration unusable", zap.String("project", project), zap.Error(perr))
	}
	logger.Info("run started", zap.Strings("projects", cfg.ProjectNames()))

	return &session{
		name:     name,
		cfg:      cfg,
		logger:   logger,
		recorder: metrics.NewRecorder(),
		deps:     deps,
		started:  deps.Now(),
	}, nil
}

// close records the outcome, pushes metrics and logs a failed run at error
// level. It returns err unchanged.
func (s *session) close(ctx context.Context, err error) error {
	finished := s.deps.Now()
	s.recorder.Observe(ctx, strings.ReplaceAll(s.name, " ", "."), err == nil, finished.Sub(s.started))
	s.recorder.Finish(finished)

	pusher := metrics.NewPusher(s.cfg.Metrics, map[string]string{
		"command": strings.ReplaceAll(s.name, " ", "_"),
	}, s.logger)
	if pusher != nil {
		if perr := pusher.Push(ctx, s.recorder.Registry()); perr != nil {
			s.logger.Warn("metrics push failed", zap.Error(perr))
		}
	}
	if err != nil {
		s.logger.Error("run failed", zap.Error(err))
	} else {
		s.logger.Info("run finished", zap.Duration("elapsed", finished.Sub(s.started)))
	}
	_ = s.logger.Sync()
	return err
}

// run opens a session, invokes fn and closes the session with fn's result.
func run(cmd *cobra.Command, opts *RootOptions, deps Deps, fn func(ctx context.Context, s *session) error) error {
	s, err := opts.open(cmd.CommandPath(), deps)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.close(ctx, fn(ctx, s))
}

func (s *session) records() RecordsClient {
	return s.deps.Records(s.cfg, s.logger)
}

func (s *session) openBlob(ctx context.Context) (blob.Store, error) {
	store, err := s.deps.OpenBlob(ctx, s.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	return store, nil
}

func (s *session) carrier() *fulfillment.Client {
	fc := fulfillment.DefaultConfig()
	fc.SearchURL = s.cfg.Carrier.SearchURL
	fc.Authorization = s.cfg.Carrier.Authorization
	fc.ProjectMarker = s.cfg.Carrier.ProjectMarker
	opts := []fulfillment.Option{fulfillment.WithRecorder(s.recorder)}
	if s.deps.CarrierHTTP != nil {
		opts = append(opts, fulfillment.WithHTTPClient(s.deps.CarrierHTTP))
	}
	return fulfillment.NewClient(fc, s.logger, opts...)
}

// projectByStrategy returns the named project, or the first configured
// project using strategy when name is empty.
func (s *session) projectByStrategy(name, strategy string) (config.Project, error) {
	if name != "" {
		return s.cfg.Project(name)
	}
	for _, p := range s.cfg.Projects {
		if p.Strategy == strategy {
			return p, nil
		}
	}
	return config.Project{}, fmt.Errorf("%w: no usable %s project", config.ErrProjectConfig, strategy)
}

// upload copies a local file into object storage. Upload failures are logged
// and never fail the command.
func (s *session) upload(ctx context.Context, path, prefix string) bool {
	store, err := s.openBlob(ctx)
	if err != nil {
		s.logger.Error("upload skipped", zap.String("file", path), zap.Error(err))
		return false
	}
	return blob.Uploader{Store: store, Logger: s.logger}.Upload(ctx, path, prefix)
}
