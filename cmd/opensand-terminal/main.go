// Command opensand-terminal runs one peer terminal's DAMA agent: the
// per-frame allocation bookkeeping, return-burst scheduling, and SAC
// reporting driven by the orchestration loop in internal/terminal.
// Grounded on the teacher's cmd/caddy/main.go + cmd/main.go Main(),
// reused across both OpenSAND binaries for the CPU-quota/memory-quota
// startup sequence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/CNES/opensand-sub007/internal/bootstrap"
	"github.com/CNES/opensand-sub007/internal/config"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	var dev bool
	var talID uint16

	cmd := &cobra.Command{
		Use:   "opensand-terminal",
		Short: "Run one OpenSAND peer terminal's DAMA agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel, dev, timeunit.TerminalID(talID))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "opensand-terminal.yaml", "path to the gateway-shared YAML configuration")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&dev, "dev", false, "use development (console, colorized) log encoding")
	flags.Uint16Var(&talID, "tal-id", 0, "this terminal's tal_id, must match a terminals[] entry in config")
	_ = cmd.MarkFlagRequired("tal-id")

	return cmd
}

func run(ctx context.Context, configPath, logLevel string, dev bool, talID timeunit.TerminalID) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(level, dev)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = telemetry.Named(logger, "terminal", zap.Uint16("tal_id", uint16(talID)))

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	defer undo()
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	_, _ = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithLogger(slog.New(zapslog.NewHandler(logger.Core()))),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	built, err := bootstrap.BuildTerminal(cfg, talID, logger, metrics)
	if err != nil {
		return fmt.Errorf("build runtime graph: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := &logOnlySender{log: telemetry.Named(logger, "transport")}
	agent := bootstrap.RunTerminal(cfg, built, sender, logger)

	logger.Info("opensand-terminal starting", zap.String("config", configPath))
	if err := agent.Run(runCtx); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	logger.Info("opensand-terminal stopped")
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// logOnlySender stands in for the uplink carrier transport (UDP
// sockets in the source, explicitly out of scope per spec.md's
// Non-goals): it satisfies terminal.Sender by logging every frame the
// orchestrator would hand to the physical layer.
type logOnlySender struct {
	log *zap.Logger
}

func (s *logOnlySender) Send(_ context.Context, f *dvbframe.Frame) error {
	s.log.Debug("frame ready for transmission",
		zap.String("message_type", f.MessageType().String()),
		zap.Uint8("carrier_id", uint8(f.CarrierID)),
	)
	return nil
}
