package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"matrixbot/internal/config"
	"matrixbot/internal/cursor"
	"matrixbot/internal/matrix"
	"matrixbot/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your matrixbot installation",
		Long: `Verifies that the configuration, database, metrics port and homeserver
credentials are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("matrixbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'matrixbot init' or 'matrixbot wizard' to create one.\n")
				return fmt.Errorf("no config file")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("invalid config")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if token, err := checkDatabase(ctx, cfg.Storage.DatabasePath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", fmt.Sprintf("%s (cursor: %s)", cfg.Storage.DatabasePath, displayToken(token)))
				passed++
			}

			if cfg.Logging.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Logging.File)
					passed++
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			if strings.HasPrefix(cfg.Matrix.AccessToken, "${") || cfg.Matrix.AccessToken == "" {
				printFail("Access token", "not set (export MATRIXBOT_ACCESS_TOKEN or set matrix.accessToken)")
				failed++
			}

			client, err := newMatrixClient(cfg)
			if err != nil {
				printFail("Homeserver", err.Error())
				failed++
			} else {
				if versions, err := client.ServerVersions(ctx); err != nil {
					printFail("Homeserver", fmt.Sprintf("%s unreachable: %v", cfg.Matrix.HomeserverURL, err))
					failed++
				} else {
					printPass("Homeserver", fmt.Sprintf("%s (%s)", cfg.Matrix.HomeserverURL, strings.Join(versions.Versions, ", ")))
					passed++

					switch whoami, err := client.WhoAmI(ctx); {
					case matrix.IsCode(err, matrix.ErrCodeUnknownToken):
						printFail("Credentials", "access token rejected by the homeserver")
						failed++
					case err != nil:
						printFail("Credentials", err.Error())
						failed++
					case whoami != cfg.Matrix.UserID:
						printFail("Credentials", fmt.Sprintf("token belongs to %s, config says %s", whoami, cfg.Matrix.UserID))
						failed++
					default:
						printPass("Credentials", whoami)
						passed++
					}
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running matrixbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmatrixbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! matrixbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the store (creating and migrating it if needed) and
// reads the cursor back through it.
func checkDatabase(ctx context.Context, dbPath string) (string, error) {
	kv, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return "", err
	}
	defer kv.Close()

	if err := kv.Ping(ctx); err != nil {
		return "", fmt.Errorf("cannot ping: %w", err)
	}
	return cursor.NewStore(kv, logger).Load(ctx)
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
