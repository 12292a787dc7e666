// Command kestrel builds and serves full-text reverse indexes.
//
// Logging:
//   - Base logger is created by cli.Env.Setup with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/spf13/cobra"

	"kestrel/cmd/kestrel/cli"
)

var version = "dev"

func main() {
	env := &cli.Env{Out: os.Stdout, Err: os.Stderr}

	rootCmd := &cobra.Command{
		Use:           "kestrel",
		Short:         "Full-text reverse index builder and server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Setup(cmd); err != nil {
				return err
			}
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					env.Logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						env.Logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}
	cli.AddPersistentFlags(rootCmd)
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(
		cli.NewJournalCommand(env),
		cli.NewBuildCommand(env),
		cli.NewQueryCommand(env),
		cli.NewStatsCommand(env),
		cli.NewServeCommand(env),
		versionCmd,
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
