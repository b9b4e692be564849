package usage

// Outcome is the result of a RequestPermission call.
type Outcome string

const (
	OutcomeFeatureUnavailable Outcome = "feature_unavailable"
	OutcomeAlreadyGranted     Outcome = "already_granted"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeGranted            Outcome = "granted"
	OutcomePending            Outcome = "pending"
	OutcomeLaunchFailed       Outcome = "launch_failed"
	OutcomeRequestFailed      Outcome = "request_failed"
	OutcomeInProgress         Outcome = "in_progress"
)

// Notice returns the notice an outcome raises, if any.
func (o Outcome) Notice() (Notice, bool) {
	var kind NoticeKind
	switch o {
	case OutcomeFeatureUnavailable:
		kind = NoticeFeatureUnavailable
	case OutcomeAlreadyGranted:
		kind = NoticeAlreadyGranted
	case OutcomeLaunchFailed:
		kind = NoticeSettingsLaunchFailed
	case OutcomeRequestFailed:
		kind = NoticeRequestFailed
	default:
		return Notice{}, false
	}
	return notices[kind], true
}
