package rcu9

import (
	"io"

	"github.com/charmbracelet/log"
)

// NewLogger returns the structured logger used throughout the protocol core
// (checksum-failure counters, BusNoisy escalation, unknown-parameter
// warnings, write-handshake outcomes), built on github.com/charmbracelet/log
// with an "rcu9" prefix and timestamps.
func NewLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          "rcu9",
		ReportTimestamp: true,
	})
}
