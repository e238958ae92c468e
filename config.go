package rcu9

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Config configures a Facade: which port to open (or, for tests and
// diagnostic replay, which recorded script to replay), which parameter
// catalog to load, and the session's timing discipline.
//
// A flat struct of connection parameters plus Verify(), and unexported
// factory methods (registry/transport/logger) that the owning Facade calls
// lazily on first use.
type Config struct {
	// Port is the serial device path, e.g. "/dev/ttyUSB0". Required unless
	// Script is set.
	Port string
	// Baud is the line rate; default is 19200.
	Baud int

	// ConfigDoc is the raw bytes of the YAML parameter configuration
	// document. Required.
	ConfigDoc []byte
	// PumpName selects one entry of ConfigDoc when it names more than one
	// pump model.
	PumpName string
	// UnknownWidth is the fallback decode width for indices absent from the
	// catalog; 0 defaults to 2 (see Registry.UnknownWidth).
	UnknownWidth int

	// ResponseDeadline, IdlePoll, EnqDelay and WriteSettleDelay tune the
	// Session's timing discipline; zero values fall back to the defaults
	// below.
	ResponseDeadline time.Duration
	IdlePoll         time.Duration
	EnqDelay         time.Duration
	WriteSettleDelay time.Duration

	// LogOutput receives structured session logs; nil defaults to os.Stderr.
	LogOutput io.Writer

	// Script, when non-nil, replaces the real serial Transport with a
	// MemTransport replaying Script, for tests and recorded-capture review.
	Script []FrameByte
}

const (
	defaultResponseDeadline = 500 * time.Millisecond
	defaultIdlePoll         = 200 * time.Millisecond
	defaultEnqDelay         = 120 * time.Millisecond
	defaultWriteSettleDelay = 200 * time.Millisecond
)

// Verify validates the Config: a sequence of field checks, none of them
// satisfiable by the zero value.
func (cfg *Config) Verify() error {
	if cfg.Port == "" && cfg.Script == nil {
		return ErrInvalidConfig
	}
	if len(cfg.ConfigDoc) == 0 {
		return ErrInvalidConfig
	}
	if cfg.Baud < 0 {
		return ErrInvalidConfig
	}
	return nil
}

func (cfg *Config) registry() (*Registry, error) {
	reg, _, err := LoadRegistryConfig(cfg.ConfigDoc, cfg.PumpName, cfg.UnknownWidth)
	return reg, err
}

func (cfg *Config) transport() (Transport, error) {
	if cfg.Script != nil {
		return NewMemTransport(cfg.Script), nil
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 19200
	}
	return OpenSerialTransport(cfg.Port, baud)
}

func (cfg *Config) logger() *log.Logger {
	w := cfg.LogOutput
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(w)
}

func (cfg *Config) responseDeadline() time.Duration {
	if cfg.ResponseDeadline > 0 {
		return cfg.ResponseDeadline
	}
	return defaultResponseDeadline
}

func (cfg *Config) idlePoll() time.Duration {
	if cfg.IdlePoll > 0 {
		return cfg.IdlePoll
	}
	return defaultIdlePoll
}

func (cfg *Config) enqDelay() time.Duration {
	if cfg.EnqDelay > 0 {
		return cfg.EnqDelay
	}
	return defaultEnqDelay
}

func (cfg *Config) writeSettleDelay() time.Duration {
	if cfg.WriteSettleDelay > 0 {
		return cfg.WriteSettleDelay
	}
	return defaultWriteSettleDelay
}
