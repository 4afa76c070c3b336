package events

import (
	"io"
	"log/slog"
	"time"
)

// EventLogger provides structured logging for key agent events.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger wraps logger. A nil logger discards all events.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		return NoopEventLogger()
	}
	return &EventLogger{logger: logger}
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &EventLogger{logger: slog.New(handler)}
}

// Logger returns the underlying slog logger.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

// LogCheckFailed logs a built-in check that failed or panicked.
// event: "check_failed"
// Attributes: check, error
func (el *EventLogger) LogCheckFailed(check string, err error) {
	el.logger.Error("check_failed",
		"check", check,
		"error", err.Error(),
	)
}

// LogCheckBatchSkipped logs a tick skipped because the previous batch is still running.
// event: "check_batch_skipped"
func (el *EventLogger) LogCheckBatchSkipped() {
	el.logger.Warn("check_batch_skipped")
}

// LogCustomCheckFinished logs the outcome of a custom check execution.
// event: "custom_check_finished"
// Attributes: check, outcome, returncode, duration_ms
func (el *EventLogger) LogCustomCheckFinished(check, outcome string, returnCode int, d time.Duration) {
	el.logger.Debug("custom_check_finished",
		"check", check,
		"outcome", outcome,
		"returncode", returnCode,
		"duration_ms", d.Milliseconds(),
	)
}

// LogCustomCheckTimeout logs a custom check killed after its timeout.
// event: "custom_check_timeout"
// Attributes: check, timeout_s
func (el *EventLogger) LogCustomCheckTimeout(check string, timeout time.Duration) {
	el.logger.Warn("custom_check_timeout",
		"check", check,
		"timeout_s", int(timeout.Seconds()),
	)
}

// LogPushResult logs the outcome of a push to the monitoring server.
// event: "push_result"
// Attributes: received_checks, error
func (el *EventLogger) LogPushResult(receivedChecks int, err error) {
	if err != nil {
		el.logger.Error("push_result", "error", err.Error())
		return
	}
	el.logger.Debug("push_result", "received_checks", receivedChecks)
}

// LogUntrustedHost logs that the server accepted a push but stored no checks.
// event: "untrusted_host"
func (el *EventLogger) LogUntrustedHost(hostUUID string) {
	el.logger.Warn("untrusted_host",
		"hostuuid", hostUUID,
		"hint", "trust this agent in the openITCOCKPIT agent configuration",
	)
}

// LogCertificateExchange logs the result of a certificate request.
// event: "certificate_exchange"
// Attributes: outcome
func (el *EventLogger) LogCertificateExchange(outcome string) {
	el.logger.Info("certificate_exchange", "outcome", outcome)
}

// LogCertificateHijack logs a server reply claiming the agent has no certificate.
// event: "certificate_hijack_suspected"
func (el *EventLogger) LogCertificateHijack(hostUUID string) {
	el.logger.Error("certificate_hijack_suspected",
		"hostuuid", hostUUID,
		"hint", "the server holds a certificate for this host but none was sent; reset the agent certificate on the server if this is expected",
	)
}

// LogCertificateExpiring logs a certificate close to its expiry date.
// event: "certificate_expiring"
// Attributes: file, days_left
func (el *EventLogger) LogCertificateExpiring(file string, daysLeft int) {
	el.logger.Warn("certificate_expiring",
		"file", file,
		"days_left", daysLeft,
	)
}

// LogReload logs a configuration reload.
// event: "reload"
// Attributes: generation, error
func (el *EventLogger) LogReload(generation int, err error) {
	if err != nil {
		el.logger.Error("reload", "generation", generation, "error", err.Error())
		return
	}
	el.logger.Info("reload", "generation", generation)
}

// LogWorker logs a worker state change.
// event: "worker"
// Attributes: worker, state
func (el *EventLogger) LogWorker(worker, state string) {
	el.logger.Debug("worker",
		"worker", worker,
		"state", state,
	)
}

// NoopEventLogger returns an event logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{logger: slog.New(handler)}
}
