package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/provider"
	"github.com/spf13/cobra"
)

var (
	ingestDate       string
	ingestPermission string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [flags] FILE",
	Short: "Load usage records into the Redis provider",
	Long: `Replace a day's usage records in the Redis provider with the JSON array
in FILE, the way a device agent reports them. Use "-" to read standard input.`,
	Example: `  detoxmine ingest --date 2024-01-15 usage.json
  detoxmine ingest --permission granted - < usage.json`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "Usage date (YYYY-MM-DD) - defaults to today")
	ingestCmd.Flags().StringVar(&ingestPermission, "permission", "", "Also record the usage access grant (granted or denied)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Provider.Type != "redis" {
		return fmt.Errorf("ingest requires the redis provider, configured provider is %q", cfg.Provider.Type)
	}

	loc, err := cfg.Usage.Location()
	if err != nil {
		return err
	}

	date := ingestDate
	if date == "" {
		date = time.Now().In(loc).Format("2006-01-02")
	}

	var data []byte
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	var records []provider.Record
	if err := sonic.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}

	prov, err := openProvider(cfg, loc, quietLogger())
	if err != nil {
		return fmt.Errorf("failed to open usage provider: %w", err)
	}
	defer func() { _ = prov.Close() }()

	ctx := commandContext(cmd)

	switch ingestPermission {
	case "":
	case "granted", "denied":
		if err := prov.redis.SetPermission(ctx, ingestPermission == "granted"); err != nil {
			return fmt.Errorf("failed to record permission: %w", err)
		}
	default:
		return fmt.Errorf("invalid --permission %q (must be granted or denied)", ingestPermission)
	}

	written, err := prov.redis.Ingest(ctx, date, records)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Stored %d usage records for %s (device %s)\n", written, date, cfg.Provider.DeviceID)

	// Hand over a settings request the agent missed while it was away
	pending, err := prov.redis.TakePendingCommand(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending command: %w", err)
	}
	if pending != nil {
		_, _ = fmt.Fprintf(os.Stdout, "⚠️  Pending agent command: %s (requested %s)\n",
			pending.Action, time.UnixMilli(pending.SentAt).In(loc).Format(time.RFC3339))
	}
	return nil
}
