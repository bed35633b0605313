// Command ganancias-sync runs one reconciliation against the remote API and
// exits. With -box only that box's controls are reconciled; with
// -clean-dates the stored dates are normalized first.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"ganancias/internal/app"
	"ganancias/internal/cli"
	"ganancias/internal/log"
	"ganancias/internal/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		boxID      = flag.Int64("box", 0, "reconcile only the controls of this box")
		cleanDates = flag.Bool("clean-dates", false, "normalize stored dates before syncing")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall deadline")
	)
	flag.Parse()

	cfg, logger := cli.Bootstrap()
	logger = logger.WithComponent(log.ComponentCLI)

	ctx, stop := cli.SignalContext(logger)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("Failed to initialize application", log.FieldError, err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("Shutdown error", log.FieldError, err)
		}
	}()

	if *cleanDates {
		report := a.Ledger.CleanDates(ctx)
		logger.Info("Dates cleaned", "history", report.History, "controls", report.Controls)
	}

	var (
		results []services.Result
		syncErr error
	)
	if *boxID != 0 {
		var res services.Result
		res, syncErr = a.Sync.SyncBoxControls(ctx, *boxID)
		results = []services.Result{res}
	} else {
		results, syncErr = a.Sync.SyncAll(ctx)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	if syncErr != nil {
		logger.Error("Sync finished with errors", log.FieldError, syncErr)
		return 1
	}
	logger.Info("Sync finished")
	return 0
}
