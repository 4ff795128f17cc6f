package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/updatectl/updatectl/internal/updatemgr"
	"github.com/updatectl/updatectl/pkg/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "updatectl",
		Short:        "updatectl drives the update-decision core of a device-update client",
		SilenceUsage: true,
	}
	cmd.AddCommand(newDecideCmd())
	return cmd
}

type decideOptions struct {
	configFile string
	logLevel   string
}

func newDecideCmd() *cobra.Command {
	opts := &decideOptions{}
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run the three update decisions against a configured provider set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "updatectl.yaml", "path to the provider/payload config file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	return cmd
}

func (o *decideOptions) run(ctx context.Context) error {
	config, err := updatemgr.LoadConfig(o.configFile)
	if err != nil {
		return err
	}

	logger := log.NewPrefixLogger("updatectl")
	switch {
	case o.logLevel != "":
		logger.Level(o.logLevel)
	case config.LogLevel != "":
		logger.Level(config.LogLevel)
	}

	state, err := config.State(time.Now)
	if err != nil {
		return err
	}

	updateState, err := config.UpdateState(time.Now())
	if err != nil {
		return err
	}
	store := updatemgr.NewMemoryUpdateStateStore(updateState)

	policy := updatemgr.NewDefaultPolicy(logger)
	evaluator := updatemgr.NewEvaluator(policy, state, time.Now, logger)

	checkParams, err := evaluator.EvaluateCheckAllowed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("update check allowed: enabled=%t interactive=%t", checkParams.UpdatesEnabled, checkParams.IsInteractive)
	if checkParams.TargetVersionPrefix != "" {
		fmt.Printf(" targetVersionPrefix=%q", checkParams.TargetVersionPrefix)
	}
	if checkParams.TargetChannel != "" {
		fmt.Printf(" targetChannel=%q", checkParams.TargetChannel)
	}
	fmt.Println()
	if !checkParams.UpdatesEnabled {
		return nil
	}

	downloadAllowed, err := evaluator.EvaluateDownloadAllowed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("download allowed on current connection: %t\n", downloadAllowed)

	downloadParams, err := evaluator.EvaluateCanStart(ctx, store)
	if err != nil {
		return err
	}
	if downloadParams.UpdateCanStart {
		if downloadParams.DownloadURLIdx >= 0 {
			fmt.Printf("update can start: url index %d (errors so far: %d)\n",
				downloadParams.DownloadURLIdx, downloadParams.DownloadURLNumErrors)
		} else {
			fmt.Println("update can start: via P2P")
		}
		return nil
	}

	fmt.Printf("update cannot start: %s", downloadParams.CannotStartReason)
	switch downloadParams.CannotStartReason {
	case updatemgr.ReasonBackoff:
		fmt.Printf(" (until %s)", downloadParams.BackoffExpiry.Format(time.RFC3339))
	case updatemgr.ReasonScattering:
		fmt.Printf(" (wait period %s, check threshold %d)",
			downloadParams.ScatterWaitPeriod, downloadParams.ScatterCheckThreshold)
	}
	fmt.Println()
	return nil
}
