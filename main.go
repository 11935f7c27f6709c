// ABOUTME: Entry point for the Sendspin synchronized player
// ABOUTME: Loads configuration, picks the output backend and runs player, TUI and metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sendspin/sendspin-sync/internal/config"
	"github.com/Sendspin/sendspin-sync/internal/metrics"
	"github.com/Sendspin/sendspin-sync/internal/ui"
	"github.com/Sendspin/sendspin-sync/internal/version"
	"github.com/Sendspin/sendspin-sync/pkg/audio/output"
	"github.com/Sendspin/sendspin-sync/pkg/playback"
	"github.com/Sendspin/sendspin-sync/pkg/sendspin"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal("Player failed", "err", err)
	}
}

func run(cfg config.Config) error {
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if cfg.NoTUI {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}
	log.SetLevel(cfg.Level())
	log.SetReportTimestamp(true)

	log.Info("Starting Sendspin Player", "name", cfg.Name, "version", version.Version, "output", cfg.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		tuiProg    *tea.Program
		volumeCtrl *ui.VolumeControl
	)
	if !cfg.NoTUI {
		volumeCtrl = ui.NewVolumeControl()
		tuiProg = ui.Run(volumeCtrl, cfg.Volume)
	}
	send := func(msg tea.Msg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	engineCfg := playback.DefaultConfig()
	engineCfg.StartBuffer = cfg.StartBuffer

	player, err := sendspin.NewPlayer(sendspin.PlayerConfig{
		ServerAddr:        cfg.ServerAddr,
		PlayerName:        cfg.Name,
		ClientID:          cfg.ClientID,
		Volume:            cfg.Volume,
		StaticDelayMs:     cfg.StaticDelayMs,
		Output:            newOutput(cfg),
		Engine:            engineCfg,
		ReconnectInterval: cfg.ReconnectInterval,
		OnStateChange: func(state sendspin.PlayerState) {
			send(ui.StateMsg(state))
		},
		OnMetadata: func(meta sendspin.Metadata) {
			send(ui.MetadataMsg(meta))
		},
		OnError: func(err error) {
			log.Warn("Player error", "err", err)
		},
	})
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	if cfg.Volume == 0 {
		_ = player.SetVolume(0)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return player.Run(ctx)
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.MetricsAddr, func() playback.Stats {
				return player.Stats().Engine
			})
		})
	}

	if tuiProg != nil {
		g.Go(func() error {
			handleVolumeControl(ctx, player, volumeCtrl)
			return nil
		})
		g.Go(func() error {
			statsUpdateLoop(ctx, player, send)
			return nil
		})
		g.Go(func() error {
			_, err := tuiProg.Run()
			stop()
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			tuiProg.Quit()
			return nil
		})
	}

	err = g.Wait()

	if closeErr := player.Close(); closeErr != nil {
		log.Warn("Error closing player", "err", closeErr)
	}
	log.Info("Player stopped")
	return err
}

func newOutput(cfg config.Config) output.Output {
	switch cfg.Backend {
	case config.BackendOto:
		return output.NewOto()
	case config.BackendWAV:
		return output.NewWAV(cfg.WAVPath)
	default:
		return output.NewMalgo()
	}
}

// handleVolumeControl applies volume changes from the TUI
func handleVolumeControl(ctx context.Context, player *sendspin.Player, volumeCtrl *ui.VolumeControl) {
	for {
		select {
		case vol := <-volumeCtrl.Changes:
			log.Debug("Volume change", "volume", vol.Volume, "muted", vol.Muted)
			if err := player.SetVolume(vol.Volume); err != nil {
				log.Warn("Set volume failed", "err", err)
			}
			if err := player.Mute(vol.Muted); err != nil {
				log.Warn("Mute failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// statsUpdateLoop periodically pushes playback statistics to the TUI
func statsUpdateLoop(ctx context.Context, player *sendspin.Player, send func(tea.Msg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			send(ui.StatsMsg(player.Stats()))
		case <-ctx.Done():
			return
		}
	}
}
