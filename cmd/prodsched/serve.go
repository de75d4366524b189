package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prodsched/internal/app"
	logx "prodsched/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := app.NewApp(ctx, cfgPath)
		if err != nil {
			return err
		}
		log := a.Logger()

		sigs := make(chan os.Signal, 4)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigs)

		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		notify(log, daemon.SdNotifyReady)

		reason := app.StopUnknown
	loop:
		for {
			select {
			case <-a.Done():
				reason = app.StopFatalError
				break loop
			case sig := <-sigs:
				switch sig {
				case syscall.SIGHUP:
					notify(log, daemon.SdNotifyReloading)
					if err := a.ReopenLogs(); err != nil {
						log.Warn("log reopen failed", logx.Err(err))
					}
					rctx, rcancel := context.WithTimeout(ctx, 30*time.Second)
					_, _ = a.Reconcile(rctx)
					rcancel()
					notify(log, daemon.SdNotifyReady)
				case syscall.SIGTERM:
					reason = app.StopSIGTERM
					break loop
				default:
					reason = app.StopSIGINT
					break loop
				}
			}
		}

		notify(log, daemon.SdNotifyStopping)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), a.Config().Shutdown()+5*time.Second)
		defer stopCancel()
		fatal := a.Err()
		if err := a.Stop(stopCtx, reason); err != nil {
			return err
		}
		return fatal
	},
}

func notify(log logx.Logger, state string) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok {
		log.Debug("sd_notify", logx.String("state", state))
	}
}
