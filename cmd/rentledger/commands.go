package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/auth"
	"github.com/warp/rental-ledger/store/sqlite"
)

// systemActor is recorded in the audit trail for CLI-driven changes.
const systemActor = "system"

// =============================================================================
// BILLING
// =============================================================================

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Billing cycle operations",
}

var billingRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Issue due invoices, flag overdue ones and send reminders, once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.ledger.RunBillingCycle(cmd.Context())
		if err != nil {
			return fmt.Errorf("billing cycle failed: %w", err)
		}
		log.Info("billing cycle complete",
			zap.Int("issued", report.Issued),
			zap.Int("marked_overdue", report.MarkedOverdue),
			zap.Int("reminders_sent", report.RemindersSent),
		)
		return printJSON(report)
	},
}

// =============================================================================
// CLEANUP
// =============================================================================

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete invoices and payments of terminated leases",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ledger.Invoices.CleanupForTerminatedLeases(cmd.Context(), systemActor)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		return printJSON(result)
	},
}

// =============================================================================
// TOKEN
// =============================================================================

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the API",
	Example: `  rentledger token --user staff-1 --role staff
  rentledger token --user tenant-alice --role tenant --ttl 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		role := auth.Role(tokenRole)
		if !role.IsValid() {
			return fmt.Errorf("unknown role %q (want admin, staff or tenant)", tokenRole)
		}
		ttl := cfg.Auth.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}

		tokens := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
		token, expires, err := tokens.Issue(auth.Principal{UserID: tokenUser, Role: role})
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"token":     token,
			"expiresAt": expires.Format(time.RFC3339),
		})
	},
}

// =============================================================================
// MIGRATE
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *sql.DB) error { return sqlite.Migrate(db, log) })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations (drops every table)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *sql.DB) error { return sqlite.MigrateDown(db, log) })
	},
}

func withDB(fn func(db *sql.DB) error) error {
	db, err := sql.Open("sqlite3", cfg.Database.Path+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	billingCmd.AddCommand(billingRunCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (token subject)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleStaff), "admin, staff or tenant")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("user")
}
