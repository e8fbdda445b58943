package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"offerbot/internal/httpapi"
	"offerbot/internal/logging"
	"offerbot/internal/mailcode"
	"offerbot/internal/offer"
	"offerbot/internal/store"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	locale     string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "offerbot",
		Short:         "Watches the logistics portal for travel offers and confirms them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Optional dotenv file with mail credentials")
	root.PersistentFlags().StringVar(&g.locale, "locale", "", "Console language (default: from LANG)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable detailed debug logging")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newCodeCmd(g))
	root.AddCommand(newRecordsCmd(g))
	root.AddCommand(newServeCmd(g))
	root.AddCommand(newVersionCmd())

	return root
}

// setup loads .env, the locale and the config file, then applies the
// environment and builds the logger.
func (g *globalFlags) setup() (*Config, *logging.Logger, error) {
	if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load %s: %w", g.envFile, err)
	}

	if err := InitLocale(g.locale); err != nil {
		fmt.Printf("Warning: Locale initialization failed, using keys: %v\n", err)
	}

	checkUserDataDirPermissions()

	config, err := LoadConfig(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, nil, err
	}
	if g.debug {
		config.DebugMode = true
	}

	log, err := logging.New(logging.Options{
		Console: os.Stderr,
		File:    config.LogFile,
		Debug:   config.DebugMode,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("Locale %s", GetLocale())
	return config, log, nil
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		origin          string
		database        string
		headless        bool
		skipOnNoOptions bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log in, open the offers screen and confirm offers until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Close()

			flags := cmd.Flags()
			if flags.Changed("origin") {
				config.Origin = origin
			}
			if flags.Changed("database") {
				config.Database = database
			}
			if flags.Changed("headless") {
				config.Headless = headless
			}
			if flags.Changed("skip-no-options") {
				config.SkipOnNoOptions = skipOnNoOptions
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runScan(ctx, config, log); err != nil {
				log.Errorf("Run failed: %v", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "Origin to filter offers by (overrides config)")
	cmd.Flags().StringVar(&database, "database", "", "SQLite path or postgres:// URL (overrides config)")
	cmd.Flags().BoolVar(&headless, "headless", false, "Run the browser without a window")
	cmd.Flags().BoolVar(&skipOnNoOptions, "skip-no-options", false, "Skip offers whose hour or minute list is empty instead of confirming them")
	return cmd
}

func runScan(ctx context.Context, config *Config, log *logging.Logger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ValidateMail(); err != nil {
		log.Warnf("Mail settings incomplete, login fails if a code is requested: %v", err)
	}

	loc, err := config.Location()
	if err != nil {
		return err
	}
	clock := NewClock(loc, log)
	if config.SyncClock {
		if err := clock.Sync(ctx, config.PortalURL); err != nil {
			log.Warnf("Clock sync failed, using local time: %v", err)
		}
		go clock.KeepSynced(ctx, clockCheckInterval, config.PortalURL)
	}
	log.Infof("Portal zone %s, clock synced: %v", clock.Location(), clock.IsSynced())

	records, err := store.Open(ctx, config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer records.Close()

	runID := uuid.NewString()
	printBanner(config, runID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	automation := NewAutomation(config, log)
	defer automation.Close()

	if err := automation.setupBrowser(cancel); err != nil {
		return fmt.Errorf("failed to setup browser: %w", err)
	}
	if err := automation.openPortal(ctx); err != nil {
		return err
	}

	mailbox := mailcode.NewIMAPMailbox(config.IMAP(), log)
	defer mailbox.Close()
	codes := mailcode.NewFetcher(mailbox, log, config.MailOptions())

	if err := automation.login(ctx, codes); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := automation.openOffers(ctx); err != nil {
		return fmt.Errorf("failed to open offers: %w", err)
	}

	scanner := offer.NewScanner(NewPortal(automation), records, log, offer.ScannerOptions{
		Origin: config.Origin,
		RunID:  runID,
		Policy: config.Policy(),
		Now:    clock.Now,
	})

	fmt.Println(T("scan_started"))
	log.Infof("Scanning offers from %s (run %s)", config.Origin, runID)

	err = scanner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println(T("scan_stopped"))
		log.Infof("Scan stopped")
		return nil
	}
	return err
}

func printBanner(config *Config, runID string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║              Logistics Portal Offer Assistant             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf(T("banner_portal")+"\n", config.PortalURL)
	fmt.Printf(T("banner_origin")+"\n", config.Origin)
	fmt.Printf(T("banner_database")+"\n", config.Database)
	fmt.Printf(T("banner_profile")+"\n", config.BrowserProfilePath)
	fmt.Printf(T("banner_run")+"\n", runID)
	if config.DebugMode {
		fmt.Println(T("debug_mode"))
	}
	if config.SkipOnNoOptions {
		fmt.Println(T("skip_no_options_mode"))
	}
	fmt.Println()
}

func newCodeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "code",
		Short: "Wait for the two-factor e-mail and print its code",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Close()

			if err := config.ValidateMail(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mailbox := mailcode.NewIMAPMailbox(config.IMAP(), log)
			defer mailbox.Close()

			fmt.Println(T("login_waiting_code"))
			code, err := mailcode.NewFetcher(mailbox, log, config.MailOptions()).Code(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}

func newRecordsCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List recorded offers, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			st, err := store.Open(ctx, config.Database)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer st.Close()

			rows, err := st.List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return writeRecords(cmd.OutOrStdout(), rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeRecords(out io.Writer, rows []offer.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOFFER\tORIGIN\tWINDOW\tDAY\tTIME\tPROCESSED")
	for _, r := range rows {
		selected := "-"
		if r.SelectedTime != nil {
			selected = *r.SelectedTime
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.OfferID, r.Origin, r.Window, r.Day, selected,
			r.ProcessedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded offers as read-only JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, log, err := g.setup()
			if err != nil {
				return err
			}
			defer log.Close()

			if cmd.Flags().Changed("addr") {
				config.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, config.Database)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer st.Close()

			return httpapi.Start(ctx, config.ListenAddr, httpapi.New(st, log).Routes(), log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "offerbot %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}

// Store init error for later display (after locale is loaded)
var initUserDataDirError error

func init() {
	userDataDir := getUserDataDir()
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		initUserDataDirError = err
	}
}

func checkUserDataDirPermissions() {
	if initUserDataDirError != nil {
		userDataDir := getUserDataDir()
		if runtime.GOOS == "darwin" && strings.Contains(initUserDataDirError.Error(), "operation not permitted") {
			fmt.Println(T("error_macos_permission_header"))
			fmt.Printf(T("error_macos_permission_location")+"\n", userDataDir)
			fmt.Println(T("error_macos_permission_fix"))
			fmt.Println()
		}
		fmt.Printf(T("error_user_data_dir_warning")+"\n", initUserDataDirError)
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./offerbot-data"
	}
	return filepath.Join(home, ".offerbot")
}
