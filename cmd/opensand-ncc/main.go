// Command opensand-ncc runs the gateway/NCC process: the DAMA
// controller, the per-category forward-link BBFrame scheduler, and the
// PEP/SVNO external command listeners, all driven by the orchestration
// loop in internal/ncc. Grounded on the teacher's cmd/caddy/main.go,
// which is itself a one-line call into the cobra command tree built by
// cmd/main.go's Main().
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

	cmd := &cobra.Command{
		Use:   "opensand-ncc",
		Short: "Run the OpenSAND gateway/NCC MAC-layer resource-management core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel, dev)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "opensand-ncc.yaml", "path to the gateway YAML configuration")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&dev, "dev", false, "use development (console, colorized) log encoding")

	return cmd
}

// run performs the same startup sequence as the teacher's cmd/main.go
// Main(): container-aware GOMAXPROCS/memory-limit tuning before
// anything else touches the runtime, then config load and orchestrator
// execution until a termination signal arrives.
func run(ctx context.Context, configPath, logLevel string, dev bool) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(level, dev)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

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
	built, err := bootstrap.BuildNCC(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("build runtime graph: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := &logOnlySender{log: telemetry.Named(logger, "transport")}
	orchestrator := bootstrap.RunNCC(cfg, built, sender, logger, metrics)

	logger.Info("opensand-ncc starting", zap.String("config", configPath))
	if err := orchestrator.Run(runCtx); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	logger.Info("opensand-ncc stopped")
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// logOnlySender stands in for the carrier transport (UDP sockets in
// the source, explicitly out of scope per spec.md's Non-goals): it
// satisfies ncc.Sender by logging every frame the orchestrator would
// hand to the physical layer, keeping the control-plane loop runnable
// end to end without real socket I/O.
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
