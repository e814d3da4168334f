/*
main.go - Application entry point

PURPOSE:
  The rentledger binary: the HTTP server plus the operational commands that
  share its configuration and wiring.

COMMANDS:
  serve            Run the HTTP API (and the billing scheduler when enabled)
  billing run      Run one billing cycle and exit
  cleanup          Purge billing history of terminated leases
  token            Mint a bearer token for a user and role
  migrate up|down  Apply or roll back database migrations

CONFIGURATION:
  --config points at a TOML file. Otherwise config.toml is read from the
  working directory or /etc/rentledger. RENTAL_* environment variables and a
  local .env override the file. See config/config.go.

EXAMPLES:
  rentledger serve
  RENTAL_DATABASE_PATH=":memory:" rentledger serve
  rentledger token --user staff-1 --role staff
  rentledger billing run

SEE ALSO:
  - app.go: dependency wiring
  - serve.go: HTTP server and graceful shutdown
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/config"
	"github.com/warp/rental-ledger/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rentledger",
	Short: "Rental billing ledger",
	Long: `rentledger tracks rent invoices and the payments made against them.

Staff record payments received at the desk; tenants submit payments that
staff approve or reject. Invoices move between Unpaid, Pending, Paid and
Overdue as money arrives and due dates pass.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		log, err = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cfg.Log.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		log = log.With(zap.String("env", cfg.App.Env))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(billingCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
