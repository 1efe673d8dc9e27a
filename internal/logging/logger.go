// Package logging provides the Banner/Section/leveled log surface on top
// of logrus, and pushes every entry to the upcall queue as
// on_log_message.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
)

// Logger wraps a logrus.Logger with banner/section helpers; each leveled
// method also enqueues an on_log_message upcall itself (no logrus hook).
type Logger struct {
	entry *logrus.Logger
	queue *upcall.Queue
}

// New builds a Logger. debug raises the level to Debug; otherwise Info.
// Every entry written through it is also pushed to queue as OnLogMessage.
func New(queue *upcall.Queue, debug bool) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Logger{entry: l, queue: queue}
}

func (l *Logger) push(severity, msg string) {
	if l.queue == nil {
		return
	}
	l.queue.Push(upcall.Event{Kind: upcall.OnLogMessage, Severity: severity, Message: msg})
}

func (l *Logger) Debug(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry.Debug(msg)
	l.push("debug", msg)
}

func (l *Logger) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry.Info(msg)
	l.push("info", msg)
}

func (l *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry.Warn(msg)
	l.push("warn", msg)
}

func (l *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry.Error(msg)
	l.push("error", msg)
}

// Success has no logrus-native level; it logs at Info with a dedicated
// field so log processors can still distinguish it.
func (l *Logger) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry.WithField("status", "success").Info(msg)
	l.push("success", msg)
}

func (l *Logger) Fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.entry.Error(msg)
	l.push("fatal", msg)
	os.Exit(1)
}

// WithPeer returns a structured field set scoping subsequent log calls
// to one peer's ID and correlation ID.
func (l *Logger) WithPeer(peerID byte, correlationID string) *logrus.Entry {
	return l.entry.WithFields(logrus.Fields{"peer_id": peerID, "correlation_id": correlationID})
}

// Section prints a banner-style section header for startup/shutdown
// milestones.
func (l *Logger) Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗\n", "", border)
	fmt.Printf("║ %-61s ║\n", title)
	fmt.Printf("╚%s╝\n\n", border)
}

// Banner prints the startup banner.
func (l *Logger) Banner(title, version string) {
	fmt.Printf("\nmoduled-net-go :: %s (%s)\n\n", title, version)
}
