package usage

import (
	"context"

	"github.com/rs/zerolog"
)

// NoticeKind identifies a user-facing notice raised by RequestPermission.
type NoticeKind string

const (
	NoticeFeatureUnavailable   NoticeKind = "feature_unavailable"
	NoticeAlreadyGranted       NoticeKind = "already_granted"
	NoticeSettingsLaunchFailed NoticeKind = "settings_launch_failed"
	NoticeRequestFailed        NoticeKind = "request_failed"
)

// Notice is a message the host application should show the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

var notices = map[NoticeKind]Notice{
	NoticeFeatureUnavailable: {
		Kind:    NoticeFeatureUnavailable,
		Title:   "Feature Unavailable",
		Message: "Usage stats tracking is not available on this device. Make sure the usage stats provider is installed.",
	},
	NoticeAlreadyGranted: {
		Kind:    NoticeAlreadyGranted,
		Title:   "Permission Already Granted",
		Message: "Usage stats permission is already granted.",
	},
	NoticeSettingsLaunchFailed: {
		Kind:    NoticeSettingsLaunchFailed,
		Title:   "Error",
		Message: "Failed to open settings. Please try again.",
	},
	NoticeRequestFailed: {
		Kind:    NoticeRequestFailed,
		Title:   "Error",
		Message: "Failed to request permission. Please try again.",
	},
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// LogNotifier writes notices to a logger. It is the default when the host
// provides no Notifier.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the notice.
func (n LogNotifier) Notify(_ context.Context, notice Notice) {
	n.Logger.Info().
		Str("notice", string(notice.Kind)).
		Str("title", notice.Title).
		Msg(notice.Message)
}

// Prompt is the confirmation shown before opening the OS settings.
type Prompt struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Confirm string `json:"confirm"`
	Cancel  string `json:"cancel"`
}

// PermissionPrompt is the confirmation RequestPermission asks for.
var PermissionPrompt = Prompt{
	Title:   "Permission Required",
	Message: "DetoxMine needs access to usage stats to track your screen time and help you with digital wellness. You will be redirected to Settings.",
	Confirm: "Grant Permission",
	Cancel:  "Cancel",
}

// Prompter asks the user to confirm an action.
type Prompter interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, prompt Prompt) (bool, error)

// Confirm calls f.
func (f PrompterFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

type confirmationKey struct{}

// WithConfirmation records the user's answer on ctx for ContextPrompter.
// Transports that collect the answer up front, such as an HTTP request body,
// use it to pass the decision through.
func WithConfirmation(ctx context.Context, confirmed bool) context.Context {
	return context.WithValue(ctx, confirmationKey{}, confirmed)
}

// ContextPrompter confirms only when WithConfirmation(ctx, true) was applied.
type ContextPrompter struct{}

// Confirm returns the answer stored on ctx, defaulting to cancel.
func (ContextPrompter) Confirm(ctx context.Context, _ Prompt) (bool, error) {
	confirmed, _ := ctx.Value(confirmationKey{}).(bool)
	return confirmed, nil
}
