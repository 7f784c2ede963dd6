// Command serie creates, edits and deletes recurring series and
// installment plans from the command line.
//
// Usage:
//
//	serie create -name Rent -amount 900 -date 2025-01-31 -kind expense -recurrence monthly
//	serie create -name Phone -amount 100.00 -date 2025-03-10 -kind expense -installments 3
//	serie edit -id <id> -scope future -amount 950
//	serie delete -id <id> -scope series
//	serie get -id <id>
//	serie list -id <id>
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"serie/internal/cli"
	"serie/internal/core"
	applog "serie/internal/log"
)

func main() {
	cli.LoadEnvFile()

	// logs go to stderr so stdout stays machine-readable
	logger := cli.SetupLogger(nil, os.Stderr, applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger.Logger)
	logger = cli.SetupLogger(cfg, os.Stderr, applog.ComponentApp)

	ctx := context.Background()
	be := cli.InitBackend(ctx, logger.Logger, cfg)

	err := run(ctx, be.Service, os.Args[1:], os.Stdout)
	if cerr := be.Cleanup(); cerr != nil {
		logger.Warn("Cleanup failed", applog.FieldError, cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "serie:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, core.ErrInvalidArgument):
		return 2
	case errors.Is(err, core.ErrNotFound):
		return 3
	default:
		return 1
	}
}
