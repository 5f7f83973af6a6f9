package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"neuron/internal/inspect"
	"neuron/internal/platform"
)

const serveChunk = 100

func newServeCmd(opts *globalOptions) *cobra.Command {
	flags := &trainFlags{}
	var (
		addr         string
		mode         string
		maxSteps     int
		saveInterval int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Train or watch an agent while serving the inspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd.Flags())
			if err != nil {
				return err
			}
			runMode, err := platform.ParseMode(mode)
			if err != nil {
				return err
			}
			if maxSteps < 0 || saveInterval < 0 {
				return errors.New("max-steps and save-interval must be >= 0")
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := opts.client(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			session, err := client.OpenSession(ctx, req)
			if err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			server := inspect.New(session, logger)
			trainer := &servedTrainer{
				session:      session,
				mode:         runMode,
				maxSteps:     maxSteps,
				saveSlot:     req.SaveSlot,
				saveInterval: saveInterval,
				log:          logger,
			}

			sup := platform.NewSupervisor(platform.SupervisorPolicy{MaxRestarts: 5}, logger)
			if err := sup.Start(ctx, "trainer", platform.RestartTransient, trainer.run); err != nil {
				return err
			}
			if err := sup.Start(ctx, "inspect", platform.RestartPermanent, func(ctx context.Context) error {
				return server.Run(ctx, addr)
			}); err != nil {
				sup.StopAll()
				return err
			}
			opts.printf("serving scape=%s tier=%s mode=%s on %s\n", session.ScapeName(), session.Tier(), runMode, addr)

			<-ctx.Done()
			sup.StopAll()

			if req.SaveSlot != "" && runMode == platform.ModeTrain {
				header, err := session.SaveCheckpoint(context.WithoutCancel(ctx), req.SaveSlot)
				if err != nil {
					return fmt.Errorf("final save: %w", err)
				}
				opts.printf("saved slot=%s episodes=%d steps=%d\n", req.SaveSlot, header.Episodes, header.Steps)
			}
			return nil
		},
	}
	flags.register(cmd.Flags())
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:8080", "inspection API listen address")
	f.StringVar(&mode, "mode", "train", "step mode: train|watch")
	f.IntVar(&maxSteps, "max-steps", 0, "stop stepping after this many steps (0 runs until interrupted)")
	f.IntVar(&saveInterval, "save-interval", 10000, "steps between checkpoint saves when --save is set (0 disables)")
	return cmd
}

// servedTrainer steps a session in chunks so the inspection server can
// interleave reads between them.
type servedTrainer struct {
	session      *platform.Session
	mode         platform.Mode
	maxSteps     int
	saveSlot     string
	saveInterval int
	log          *slog.Logger

	done      int
	sinceSave int
}

func (t *servedTrainer) run(ctx context.Context) error {
	for t.maxSteps == 0 || t.done < t.maxSteps {
		chunk := serveChunk
		if t.maxSteps > 0 {
			chunk = min(chunk, t.maxSteps-t.done)
		}
		if err := t.session.Run(ctx, chunk, t.mode); err != nil {
			return err
		}
		t.done += chunk
		t.sinceSave += chunk

		if t.mode == platform.ModeTrain && t.saveSlot != "" && t.saveInterval > 0 && t.sinceSave >= t.saveInterval {
			if _, err := t.session.SaveCheckpoint(ctx, t.saveSlot); err != nil {
				return err
			}
			t.sinceSave = 0
			t.logUsage()
		}
	}
	return nil
}

func (t *servedTrainer) logUsage() {
	usage, err := inspect.ProcessUsage()
	if err != nil {
		t.log.Warn("resource usage unavailable", "err", err)
		return
	}
	t.log.Info("resource usage",
		"steps", t.done,
		"rss", humanize.IBytes(usage.RSS),
		"cpu_percent", fmt.Sprintf("%.1f", usage.CPUPercent))
}
