package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/goal"
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/goodtune/detoxmine/internal/storage/bolt"
	"github.com/spf13/cobra"
)

var (
	goalLimitMinutes int
	goalDurationDays int
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage detox goals",
	Long: `Manage detox goals in the local store. The store is locked while the
server runs; use the API instead in that case.`,
}

var goalCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Start a goal",
	Example: `  detoxmine goal create --limit 120 --days 7`,
	Args:    cobra.NoArgs,
	RunE:    runGoalCreate,
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals and profile totals",
	Args:  cobra.NoArgs,
	RunE:  runGoalList,
}

var goalFinalizeCmd = &cobra.Command{
	Use:   "finalize ID",
	Short: "Score a goal whose period has ended",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalFinalize,
}

func init() {
	goalCreateCmd.Flags().IntVar(&goalLimitMinutes, "limit", 0, "Daily screen time limit in minutes (required)")
	goalCreateCmd.Flags().IntVar(&goalDurationDays, "days", 7, "Goal duration in days")
	_ = goalCreateCmd.MarkFlagRequired("limit")

	goalCmd.AddCommand(goalCreateCmd)
	goalCmd.AddCommand(goalListCmd)
	goalCmd.AddCommand(goalFinalizeCmd)
	rootCmd.AddCommand(goalCmd)
}

// openGoals opens the store and a goal service over it.
func openGoals() (*goal.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := bolt.Open(cfg.Storage.Path, cfg.Storage.CacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	loc, err := cfg.Usage.Location()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	goals := goal.NewService(store.Goals(), nil, quietLogger())
	goals.SetLocation(loc)
	return goals, func() { _ = store.Close() }, nil
}

func runGoalCreate(cmd *cobra.Command, args []string) error {
	goals, closeStore, err := openGoals()
	if err != nil {
		return err
	}
	defer closeStore()

	created, err := goals.Create(commandContext(cmd), goalLimitMinutes, goalDurationDays)
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen, color.Bold).Printf("✅ Goal %s created\n", created.ID)
	_, _ = fmt.Fprintf(os.Stdout, "Limit %d minutes a day until %s (%d of %d days must be met)\n",
		created.LimitMinutes, created.EndAt.Format("2006-01-02 15:04"),
		goal.SuccessThreshold(created.DurationDays), created.DurationDays)
	return nil
}

func runGoalList(cmd *cobra.Command, args []string) error {
	goals, closeStore, err := openGoals()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := commandContext(cmd)
	list, err := goals.List(ctx)
	if err != nil {
		return err
	}
	profile, err := goals.Profile(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tLIMIT\tPROGRESS\tENDS")
	for _, g := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%dm\t%d/%d met (%d reported)\t%s\n",
			g.ID, statusColor(g.Status).Sprint(g.Status), g.LimitMinutes,
			g.DaysCompleted, g.DurationDays, g.DaysReported, g.EndAt.Format("2006-01-02"))
	}
	_ = w.Flush()

	_, _ = color.New(color.FgCyan, color.Bold).Println("\nProfile")
	_, _ = fmt.Fprintf(os.Stdout, "  completed %d, failed %d, streak %d (longest %d)\n",
		profile.GoalsCompleted, profile.GoalsFailed, profile.CurrentStreak, profile.LongestStreak)
	return nil
}

func runGoalFinalize(cmd *cobra.Command, args []string) error {
	goals, closeStore, err := openGoals()
	if err != nil {
		return err
	}
	defer closeStore()

	finalized, err := goals.Finalize(commandContext(cmd), args[0])
	if err != nil {
		return err
	}

	_, _ = statusColor(finalized.Status).Printf("Goal %s %s", finalized.ID, finalized.Status)
	_, _ = fmt.Fprintf(os.Stdout, " (%d of %d days met)\n", finalized.DaysCompleted, finalized.DurationDays)
	return nil
}

func statusColor(status storage.GoalStatus) *color.Color {
	switch status {
	case storage.GoalCompleted:
		return color.New(color.FgGreen, color.Bold)
	case storage.GoalFailed:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}
