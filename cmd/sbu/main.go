package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/supa-backup/internal/app"
	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/logging"
	"github.com/rowjay/supa-backup/internal/notify"
	"github.com/rowjay/supa-backup/internal/restore"
	"github.com/rowjay/supa-backup/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	ProjectName       string
	ProjectURL        string
	ServiceKey        string
	DBURL             string
	TargetURL         string
	TargetServiceKey  string
	TargetDBURL       string
	BackupDir         string
	Archive           string
	ArchivePath       string
	ArchiveEncryption string
	EncryptionKey     string
	AllowMissingTools bool
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "sbu",
		Short:         "Backup and restore for hosted Supabase projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.ProjectName, "project-name", "", "Source project name, used as the bundle prefix")
	rootCmd.PersistentFlags().StringVar(&overrides.ProjectURL, "project-url", "", "Source project URL")
	rootCmd.PersistentFlags().StringVar(&overrides.ServiceKey, "service-key", "", "Source project service role key")
	rootCmd.PersistentFlags().StringVar(&overrides.DBURL, "db-url", "", "Source project database URL")
	rootCmd.PersistentFlags().StringVar(&overrides.TargetURL, "target-url", "", "Restore target project URL")
	rootCmd.PersistentFlags().StringVar(&overrides.TargetServiceKey, "target-service-key", "", "Restore target service role key")
	rootCmd.PersistentFlags().StringVar(&overrides.TargetDBURL, "target-db-url", "", "Restore target database URL")
	rootCmd.PersistentFlags().StringVar(&overrides.BackupDir, "backup-dir", "", "Bundle root directory")
	rootCmd.PersistentFlags().StringVar(&overrides.Archive, "archive-backend", "", "Archive destination (local, s3)")
	rootCmd.PersistentFlags().StringVar(&overrides.ArchivePath, "archive-path", "", "Local archive directory")
	rootCmd.PersistentFlags().StringVar(&overrides.ArchiveEncryption, "archive-encrypt", "", "Encrypt archives (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.EncryptionKey, "encryption-key", "", "Archive encryption key (base64 or hex)")
	rootCmd.PersistentFlags().BoolVar(&overrides.AllowMissingTools, "allow-missing-tools", false, "Do not require pg_dump/psql/supabase on PATH")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newVerifyCmd(root, overrides))
	rootCmd.AddCommand(newCompareCmd(root, overrides))
	rootCmd.AddCommand(newArchiveCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the application around it.
func setup(root *rootFlags, overrides *overrideFlags) (*app.App, zerolog.Logger, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	var notifier notify.Notifier
	if targets := notify.FromConfig(cfg.Notifications); !targets.Empty() {
		notifier = targets
	}
	return app.New(cfg, logger, notifier, stdinConfirmer(os.Stdin, os.Stderr)), logger, nil
}

func operationContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, cfg.Global.OperationTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var noStorage, noAuth, noFunctions, noTableJSON, archive bool
	var retry int
	var retryBackoff time.Duration

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a backup bundle of the source project",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			b := &svc.Cfg.Backup
			b.IncludeStorage = b.IncludeStorage && !noStorage
			b.IncludeAuth = b.IncludeAuth && !noAuth
			b.IncludeEdgeFunctions = b.IncludeEdgeFunctions && !noFunctions
			b.TableJSON = b.TableJSON && !noTableJSON
			if archive {
				b.Archive = true
			}
			if retry > 0 {
				b.RetryCount = retry
			}
			if retryBackoff > 0 {
				b.RetryBackoff = retryBackoff
			}

			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			res, err := svc.Backup(ctx)
			if err != nil {
				return err
			}
			ev := logger.Info().Str("bundle", res.Path).Str("summary", res.Report.Summary())
			if res.Archive != nil {
				ev = ev.Str("key", res.Archive.Key).Str("size", humanize.Bytes(uint64(res.Archive.SizeBytes)))
			}
			ev.Msg("backup completed")
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noStorage, "no-storage", false, "Skip storage buckets and objects")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "Skip auth users")
	cmd.Flags().BoolVar(&noFunctions, "no-edge-functions", false, "Skip edge function sources")
	cmd.Flags().BoolVar(&noTableJSON, "no-table-json", false, "Skip the per-table JSON projection")
	cmd.Flags().BoolVar(&archive, "archive", false, "Push the bundle to the archive destination afterwards")
	cmd.Flags().IntVar(&retry, "retry", 0, "Attempts per storage object download")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", 0, "Initial wait between download attempts")
	return cmd
}

type restoreFlags struct {
	latest          bool
	mode            string
	yes             bool
	deployFunctions bool
	skip            map[string]*bool
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	flags := &restoreFlags{skip: map[string]*bool{}}

	cmd := &cobra.Command{
		Use:   "restore [bundle]",
		Short: "Restore a bundle into the target project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			if flags.mode != "" {
				svc.Cfg.Restore.Mode = flags.mode
			}
			req, err := svc.DefaultRestoreRequest()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				req.Bundle = args[0]
			}
			if req.Bundle == "" && !flags.latest {
				return fmt.Errorf("a bundle argument or --latest is required")
			}
			req.Latest = flags.latest && req.Bundle == ""
			req.Confirmed = flags.yes
			req.DeployFunctions = req.DeployFunctions || flags.deployFunctions
			flags.apply(&req.Resources)

			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			res, err := svc.Restore(ctx, req)
			if err != nil {
				return err
			}
			if res.Cancelled {
				fmt.Fprintln(cmd.ErrOrStderr(), "restore cancelled")
				return nil
			}
			logger.Info().
				Str("bundle", res.Bundle).
				Str("mode", string(res.Mode)).
				Str("summary", res.Report.Summary()).
				Int("deployed", res.Deployed).
				Int("deploy_failed", res.DeployFailed).
				Msg("restore completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.latest, "latest", false, "Restore the newest bundle in the bundle root")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "Restore mode (clean, merge, force)")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&flags.deployFunctions, "deploy-functions", false, "Deploy restored edge functions with the platform CLI")
	for _, name := range []string{"database", "storage", "auth", "edge-functions", "roles", "realtime", "webhooks"} {
		flags.skip[name] = cmd.Flags().Bool("no-"+name, false, "Do not restore "+strings.ReplaceAll(name, "-", " "))
	}
	return cmd
}

func (f *restoreFlags) apply(r *restore.Resources) {
	targets := map[string]*bool{
		"database":       &r.Database,
		"storage":        &r.Storage,
		"auth":           &r.Auth,
		"edge-functions": &r.EdgeFunctions,
		"roles":          &r.Roles,
		"realtime":       &r.Realtime,
		"webhooks":       &r.Webhooks,
	}
	for name, skip := range f.skip {
		if *skip {
			*targets[name] = false
		}
	}
}

// stdinConfirmer shows the mode warning and waits for an explicit "yes".
func stdinConfirmer(in io.Reader, out io.Writer) restore.Confirmer {
	reader := bufio.NewReader(in)
	return restore.ConfirmFunc(func(_ context.Context, mode restore.Mode, warning string) (bool, error) {
		fmt.Fprintln(out, warning)
		fmt.Fprintf(out, "Type 'yes' to run a %s restore: ", mode)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
	})
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bundles in the bundle root",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			items, err := svc.List()
			if err != nil {
				return err
			}
			return writeBundleList(cmd.OutOrStdout(), items)
		},
	}
}

func writeBundleList(out io.Writer, items []bundle.Summary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCREATED\tSIZE\tSOURCE\tINCLUDES")
	for _, item := range items {
		created := item.Manifest.Timestamp
		if t, err := item.Manifest.Time(); err == nil {
			created = t.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.Name,
			created,
			humanize.Bytes(uint64(item.Size)),
			item.Manifest.SourceURL,
			includes(item.Manifest.IncludeStorage, item.Manifest.IncludeAuth, item.Manifest.IncludeEdgeFunctions),
		)
	}
	return w.Flush()
}

func includes(storage, auth, functions bool) string {
	parts := []string{"database"}
	if storage {
		parts = append(parts, "storage")
	}
	if auth {
		parts = append(parts, "auth")
	}
	if functions {
		parts = append(parts, "edge_functions")
	}
	return strings.Join(parts, ",")
}

func newVerifyCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [bundle]",
		Short: "Probe the target project, optionally against a bundle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			var bundlePath string
			if len(args) == 1 {
				bundlePath = args[0]
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			res, err := svc.Verify(ctx, bundlePath)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Passed() {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
}

func newCompareCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compare",
		Short: "Compare public tables of the source and target projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			res, err := svc.Compare(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newArchiveCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Offsite bundle archives",
	}

	push := &cobra.Command{
		Use:   "push <bundle>",
		Short: "Pack a bundle and upload it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			m, err := svc.ArchivePush(ctx, args[0])
			if err != nil {
				return err
			}
			logger.Info().Str("key", m.Key).Str("size", humanize.Bytes(uint64(m.SizeBytes))).Msg("archive pushed")
			fmt.Fprintln(cmd.OutOrStdout(), m.Key)
			return nil
		},
	}

	pull := &cobra.Command{
		Use:   "pull <key>",
		Short: "Download an archive into the bundle root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			path, err := svc.ArchivePull(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archives of the source project",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(svc.Cfg)
			defer cancel()

			items, err := svc.ArchiveList(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tCREATED\tSIZE\tENCRYPTED")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", item.Key, humanize.Time(item.CreatedAt), humanize.Bytes(uint64(item.SizeBytes)), item.Encryption)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(push, pull, list)
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sbu %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	if overrides.AllowMissingTools {
		cfg.Global.AllowMissingTools = true
	}

	if overrides.ProjectName != "" {
		cfg.Project.Name = overrides.ProjectName
	}
	if overrides.ProjectURL != "" {
		cfg.Project.URL = overrides.ProjectURL
	}
	if overrides.ServiceKey != "" {
		cfg.Project.ServiceKey = overrides.ServiceKey
	}
	if overrides.DBURL != "" {
		cfg.Project.DBURL = overrides.DBURL
	}
	if overrides.TargetURL != "" {
		cfg.Target.URL = overrides.TargetURL
	}
	if overrides.TargetServiceKey != "" {
		cfg.Target.ServiceKey = overrides.TargetServiceKey
	}
	if overrides.TargetDBURL != "" {
		cfg.Target.DBURL = overrides.TargetDBURL
	}

	if overrides.BackupDir != "" {
		cfg.Backup.Dir = overrides.BackupDir
	}
	if overrides.Archive != "" {
		cfg.Archive.Backend = overrides.Archive
	}
	if overrides.ArchivePath != "" {
		cfg.Archive.Local.Path = overrides.ArchivePath
	}
	if overrides.ArchiveEncryption != "" {
		cfg.Archive.Encryption = strings.EqualFold(overrides.ArchiveEncryption, "true") || overrides.ArchiveEncryption == "1"
	}
	if overrides.EncryptionKey != "" {
		cfg.Archive.EncryptionKey = overrides.EncryptionKey
	}

	cfg.Restore.Mode = strings.ToLower(cfg.Restore.Mode)
	cfg.Archive.Backend = strings.ToLower(cfg.Archive.Backend)
	cfg.Archive.Compression = strings.ToLower(cfg.Archive.Compression)
}
