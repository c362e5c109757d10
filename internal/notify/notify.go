// Package notify defines the event sink the sync engine reports through.
// Concrete delivery (Slack, SMTP, ...) lives outside the core; the engine
// only ever calls Notify.
package notify

import "github.com/sirupsen/logrus"

// Event names dispatched by the engine.
const (
	EventConflictDetected = "conflict_detected"
	EventPRSyncFailed     = "pr_sync_failed"
	EventCycleError       = "cycle_error"
)

// Event is one notification.
type Event struct {
	Name   string
	Detail string
	// SvnRev and GitSHA identify the subject when known.
	SvnRev int64
	GitSHA string
}

// Sink receives events. Implementations must be non-blocking or internally
// buffered; the engine calls Notify inline between sync steps.
type Sink interface {
	Notify(event Event)
}

// LogSink writes events to the structured log. It is the default sink when
// no external notifier is wired up.
type LogSink struct {
	Log *logrus.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(event Event) {
	logger := s.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"event":   event.Name,
		"svn_rev": event.SvnRev,
		"git_sha": event.GitSHA,
	}).Warn(event.Detail)
}

// Discard drops all events, for tests.
type Discard struct{}

// Notify implements Sink.
func (Discard) Notify(Event) {}
