package main

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/usage"
	"github.com/spf13/cobra"
)

var (
	statsJSON  bool
	statsDebug bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's screen time",
	Long:  `Query the configured usage provider once and print today's aggregated screen time.`,
	Example: `  detoxmine stats
  detoxmine -c config.yaml stats --json
  detoxmine stats --debug`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the result as JSON")
	statsCmd.Flags().BoolVar(&statsDebug, "debug", false, "Print provider diagnostics")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	engine, closeProvider, err := newCLIEngine(cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	ctx := commandContext(cmd)

	if statsDebug {
		return printJSON(engine.DebugInfo(ctx))
	}

	engine.Init(ctx)
	snap := engine.Snapshot()

	if statsJSON {
		return printJSON(snap)
	}

	printStats(snap)
	return nil
}

// newCLIEngine builds an engine over the configured provider for one-shot commands.
func newCLIEngine(cfg *config.Config, opts ...usage.Option) (*usage.Engine, func(), error) {
	loc, err := cfg.Usage.Location()
	if err != nil {
		return nil, nil, err
	}

	logger := quietLogger()
	prov, err := openProvider(cfg, loc, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open usage provider: %w", err)
	}

	engine := usage.NewEngine(prov.caps, engineConfig(cfg, loc), logger, opts...)
	return engine, func() { _ = prov.Close() }, nil
}

func printStats(snap usage.Snapshot) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)

	if !snap.HasPermission {
		_, _ = red.Println("Usage access has not been granted.")
		_, _ = fmt.Fprintln(os.Stdout, "Run 'detoxmine permission request' to open the usage access settings.")
		return
	}

	_, _ = cyan.Printf("Screen time today: %s\n", usage.FormatDuration(snap.TotalScreenTime))
	if !snap.WindowStart.IsZero() {
		_, _ = dim.Printf("Since %s, refreshed %s\n", snap.WindowStart.Format("2006-01-02 15:04"), snap.LastRefresh.Format("15:04:05"))
	}

	if len(snap.UsageStats) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "\nNo app usage recorded yet.")
		return
	}

	_, _ = fmt.Fprintln(os.Stdout)
	for i, app := range snap.UsageStats {
		_, _ = bold.Printf("%2d. %-30s", i+1, app.AppName)
		_, _ = fmt.Fprintf(os.Stdout, " %10s  ", usage.FormatDuration(app.ForegroundMs))
		_, _ = dim.Println(app.PackageName)
	}
}

func printJSON(v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
