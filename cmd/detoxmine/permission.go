package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/usage"
	"github.com/spf13/cobra"
)

var permissionYes bool

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Inspect or request usage access",
}

var permissionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether usage access is granted",
	Args:  cobra.NoArgs,
	RunE:  runPermissionCheck,
}

var permissionRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request usage access from the device",
	Long: `Ask for confirmation, then open the device's usage access settings and
check the permission again once the user has had a chance to grant it.`,
	Example: `  detoxmine permission request
  detoxmine permission request --yes`,
	Args: cobra.NoArgs,
	RunE: runPermissionRequest,
}

func init() {
	permissionRequestCmd.Flags().BoolVarP(&permissionYes, "yes", "y", false, "Skip the confirmation prompt")

	permissionCmd.AddCommand(permissionCheckCmd)
	permissionCmd.AddCommand(permissionRequestCmd)
	rootCmd.AddCommand(permissionCmd)
}

func runPermissionCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	engine, closeProvider, err := newCLIEngine(cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	state := engine.CheckPermission(commandContext(cmd))
	switch state {
	case usage.PermissionGranted:
		_, _ = color.New(color.FgGreen, color.Bold).Println("✅ Usage access granted")
	case usage.PermissionDenied:
		_, _ = color.New(color.FgRed, color.Bold).Println("❌ Usage access denied")
	default:
		_, _ = color.New(color.FgYellow, color.Bold).Println("⚠️  Usage access unknown (provider unavailable)")
	}
	return nil
}

func runPermissionRequest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var prompter usage.Prompter = terminalPrompter(os.Stdin, os.Stdout)
	if permissionYes {
		prompter = usage.PrompterFunc(func(context.Context, usage.Prompt) (bool, error) { return true, nil })
	}

	engine, closeProvider, err := newCLIEngine(cfg,
		usage.WithPrompter(prompter),
		usage.WithNotifier(terminalNotifier{}),
	)
	if err != nil {
		return err
	}
	defer closeProvider()

	outcome := engine.RequestPermission(commandContext(cmd))
	switch outcome {
	case usage.OutcomeGranted:
		_, _ = color.New(color.FgGreen, color.Bold).Println("✅ Usage access granted")
	case usage.OutcomePending:
		_, _ = fmt.Fprintln(os.Stdout, "Settings opened. Grant usage access on the device, then run 'detoxmine permission check'.")
	case usage.OutcomeCancelled:
		_, _ = fmt.Fprintln(os.Stdout, "Cancelled.")
	case usage.OutcomeFeatureUnavailable, usage.OutcomeLaunchFailed, usage.OutcomeRequestFailed:
		return fmt.Errorf("permission request failed: %s", outcome)
	}
	return nil
}

// terminalPrompter asks the prompt on out and reads a yes/no answer from in.
func terminalPrompter(in io.Reader, out io.Writer) usage.Prompter {
	reader := bufio.NewReader(in)
	return usage.PrompterFunc(func(ctx context.Context, prompt usage.Prompt) (bool, error) {
		_, _ = color.New(color.Bold).Fprintln(out, prompt.Title)
		_, _ = fmt.Fprintln(out, prompt.Message)
		_, _ = fmt.Fprintf(out, "%s? [y/N] ", prompt.Confirm)

		answer, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	})
}

// terminalNotifier prints notices for the user.
type terminalNotifier struct{}

func (terminalNotifier) Notify(_ context.Context, notice usage.Notice) {
	c := color.New(color.FgYellow, color.Bold)
	if notice.Kind == usage.NoticeAlreadyGranted {
		c = color.New(color.FgGreen, color.Bold)
	}
	_, _ = c.Fprintf(os.Stdout, "%s: ", notice.Title)
	_, _ = fmt.Fprintln(os.Stdout, notice.Message)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
