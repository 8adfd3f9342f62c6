package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dbehnke/companionlink/internal/clock"
	"github.com/dbehnke/companionlink/internal/config"
	"github.com/dbehnke/companionlink/internal/database"
	"github.com/dbehnke/companionlink/internal/logging"
	"github.com/dbehnke/companionlink/internal/radio/bluez"
	"github.com/dbehnke/companionlink/internal/radio/sim"
	"github.com/dbehnke/companionlink/internal/radio/uart"
	"github.com/dbehnke/companionlink/internal/transport"
)

// statsInterval is how often the running daemon logs a stats line
const statsInterval = time.Minute

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the transport until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDaemon(ctx, cfg, cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// boundLink is a radio link that reports to a transport
type boundLink interface {
	transport.RadioLink
	Bind(h transport.LinkHandler)
}

func runDaemon(ctx context.Context, cfg *config.Config, console io.Writer) error {
	log, closeLog, err := logging.New(logging.Options{
		DisplayLevel: cfg.GetLogDisplayLevel(),
		FileLevel:    cfg.GetLogFileLevel(),
		FilePath:     cfg.GetLogFilePath(),
		FileRoot:     cfg.GetLogFileRoot(),
	}, console, time.Now())
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Sync()
		_ = closeLog()
	}()

	log.Info("companiond starting",
		zap.String("version", version),
		zap.String("adapter", cfg.GetAdapter()),
		zap.String("device", cfg.GetDeviceName()))

	var journal *database.Journal
	if cfg.GetDatabaseEnabled() {
		db, err := database.NewDB(database.Config{
			Path:  cfg.GetDatabasePath(),
			Debug: cfg.GetDatabaseDebug(),
		}, log.Named("database"))
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()

		journal = database.NewJournal(database.NewSessionRepository(db.GetDB()), log.Named("journal"))
		defer journal.Close()
		log.Info("session journal enabled", zap.String("path", cfg.GetDatabasePath()))
	}

	link, closeLink, err := openLink(cfg, log)
	if err != nil {
		return err
	}
	defer closeLink()

	tr, err := transport.New(cfg.TransportConfig(), link, clock.System{}, log.Named("transport"))
	if err != nil {
		return err
	}
	if journal != nil {
		tr.SetEventHandler(journal.Handle)
	}
	link.Bind(tr)

	if err := tr.Enable(); err != nil {
		return fmt.Errorf("failed to enable transport: %w", err)
	}
	defer tr.Disable()

	if s, ok := link.(*sim.Link); ok && cfg.GetSimPeer() {
		peerCtx, cancelPeer := context.WithCancel(ctx)
		peerDone := make(chan struct{})
		go func() {
			defer close(peerDone)
			sim.RunPeer(peerCtx, s, sim.PeerOptions{
				MTU:          int(cfg.GetAssumedMTU()),
				Passkey:      cfg.GetSimPeerPasskey(),
				Interval:     time.Duration(cfg.GetSimPeerInterval()) * time.Millisecond,
				SessionLimit: int(cfg.GetSimSessionFrames()),
			})
		}()
		defer func() {
			cancelPeer()
			<-peerDone
		}()
	}

	upper := newEcho(tr, int(cfg.GetMaxFrameSize()), int(cfg.GetRecvQueueSize()), log.Named("echo"))

	ticker := time.NewTicker(cfg.TickDuration())
	defer ticker.Stop()
	report := time.NewTicker(statsInterval)
	defer report.Stop()

	log.Info("companiond running", zap.Duration("tick", cfg.TickDuration()))
	for {
		select {
		case <-ctx.Done():
			s := tr.Stats()
			log.Info("companiond stopping",
				zap.Uint64("frames_sent", s.FramesSent),
				zap.Uint64("frames_received", s.FramesReceived),
				zap.Uint64("echoed", upper.echoed),
				zap.Uint64("echo_dropped", upper.dropped))
			return nil
		case <-report.C:
			s := tr.Stats()
			log.Info("stats",
				zap.Bool("connected", s.Connected),
				zap.Uint64("frames_sent", s.FramesSent),
				zap.Uint64("frames_received", s.FramesReceived),
				zap.Uint64("recv_dropped", s.RecvDropped),
				zap.Uint64("stale_timeouts", s.StaleTimeouts),
				zap.Uint32("consecutive_failures", s.Recovery.ConsecutiveFailures))
		case <-ticker.C:
			upper.poll()
		}
	}
}

// openLink builds the radio adapter named by [Link] Adapter. The returned
// function releases it.
func openLink(cfg *config.Config, log *zap.Logger) (boundLink, func(), error) {
	switch cfg.GetAdapter() {
	case config.AdapterBlueZ:
		l := bluez.New(bluez.Options{
			DeviceName: cfg.GetDeviceName(),
			AssumedMTU: int(cfg.GetAssumedMTU()),
		}, log.Named("bluez"))
		return l, func() {}, nil

	case config.AdapterUART:
		l, err := uart.Open(uart.Options{
			Port:       cfg.GetUARTPort(),
			Baud:       int(cfg.GetUARTBaud()),
			DeviceName: cfg.GetDeviceName(),
		}, log.Named("uart"))
		if err != nil {
			return nil, nil, err
		}
		return l, func() {
			if err := l.Close(); err != nil {
				log.Warn("failed to close serial port", zap.Error(err))
			}
		}, nil

	default:
		return sim.New(log.Named("sim")), func() {}, nil
	}
}
