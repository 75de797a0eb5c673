// Command ingest runs one dataset ingestion and prints the run report.
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

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/yungbote/moldline-backend/internal/app"
	"github.com/yungbote/moldline-backend/internal/ingest"
)

// errRunFailed marks a run whose report was already printed.
var errRunFailed = errors.New("ingestion failed")

// openController returns the controller to drive and a release func.
type openController func(ctx context.Context, local bool) (ingest.Controller, func(), error)

func openAppController(ctx context.Context, local bool) (ingest.Controller, func(), error) {
	a, err := app.New(ctx, app.Options{Local: local})
	if err != nil {
		return nil, nil, err
	}
	return a.Services.Controller, a.Close, nil
}

func newRootCommand(stdout, stderr io.Writer, open openController) *cobra.Command {
	var (
		local   bool
		output  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest <uri>",
		Short: "Fetch, archive and load a manufacturing quality dataset",
		Long: `Fetches a JSON dataset from a local path, file:// URI or http(s) URL,
archives it under its SHA-256 digest and replaces the product, machine state
and defect tables with its contents.

The run goes through the Temporal workflow when TEMPORAL_ADDRESS is set,
unless --local is given.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			ctrl, release, err := open(ctx, local)
			if err != nil {
				return err
			}
			defer release()

			report, runErr := ctrl.Run(ctx, args[0])
			if err := renderReport(stdout, format, report); err != nil {
				return err
			}
			if runErr != nil {
				pterm.Error.WithWriter(stderr).Printfln("ingestion %s: %s", report.Status, report.ErrorKind)
				return errRunFailed
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().BoolVar(&local, "local", false, "run the stages in-process instead of through Temporal")
	cmd.Flags().StringVarP(&output, "output", "o", string(formatTable), "report format: table, json or yaml")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(os.Stdout, os.Stderr, openAppController)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
