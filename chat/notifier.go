package chat

import "log/slog"

// Severity classifies a user-facing notification.
type Severity string

const (
	SeveritySuccess Severity = "SUCCESS"
	SeverityError   Severity = "ERROR"
	SeverityInfo    Severity = "INFO"
)

// Notification is a fire-and-forget user-facing message. The presentation
// layer decides how to show it; producers never wait on delivery.
type Notification struct {
	Message  string
	Severity Severity
}

// Notifier receives notifications produced by the session layer.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to structured logs. It is the default
// sink when no presentation layer is attached.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger. A nil
// logger falls back to slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notification Notification) {
	switch notification.Severity {
	case SeverityError:
		n.logger.Warn("notification", "severity", notification.Severity, "message", notification.Message)
	default:
		n.logger.Info("notification", "severity", notification.Severity, "message", notification.Message)
	}
}
