// Command rcuctl is a minimal façade CLI: it either captures a raw byte
// trace for a fixed duration, or performs one collection pass over the
// configured register set and prints the resulting table.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/GoAethereal/cancel"
	"github.com/spf13/pflag"

	"rcu9"
)

const (
	exitOK = iota
	exitTransportFailure
	exitCollectionTimeout
	exitConfigError
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port       = pflag.StringP("port", "p", "", "Serial device to open, e.g. /dev/ttyUSB0.")
		baud       = pflag.IntP("baud", "b", 19200, "Line rate.")
		configPath = pflag.StringP("config", "c", "", "Path to the YAML parameter configuration document.")
		pumpName   = pflag.StringP("pump", "m", "", "Pump model name within the configuration document, if it names more than one.")
		capture    = pflag.DurationP("capture", "d", 0, "Run in diagnostic capture mode for the given duration instead of a one-shot read.")
		timeout    = pflag.DurationP("timeout", "t", 10*time.Second, "Deadline for one-shot collection before returning partial data.")
		help       = pflag.BoolP("help", "h", false, "Display help text.")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: rcuctl --config FILE --port DEVICE [--capture DURATION | --timeout DURATION]")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return exitOK
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "rcuctl: --config is required")
		return exitConfigError
	}
	doc, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rcuctl: reading config: %v\n", err)
		return exitConfigError
	}

	cfg := rcu9.Config{
		Port:      *port,
		Baud:      *baud,
		ConfigDoc: doc,
		PumpName:  *pumpName,
		LogOutput: os.Stderr,
	}
	if err := cfg.Verify(); err != nil {
		fmt.Fprintf(os.Stderr, "rcuctl: %v\n", err)
		return exitConfigError
	}

	facade := &rcu9.Facade{Config: cfg}
	defer facade.Close()

	if *capture > 0 {
		return runCapture(facade, *capture)
	}
	return runOnce(facade, *timeout)
}

func runCapture(facade *rcu9.Facade, duration time.Duration) int {
	frames, err := facade.DiagnosticCapture(duration)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rcuctl: %v\n", err)
		return exitTransportFailure
	}
	for _, f := range frames {
		fmt.Printf("%s %s %s\n", f.At.Format(time.RFC3339Nano), f.Direction, f.Frame)
	}
	return exitOK
}

func runOnce(facade *rcu9.Facade, timeout time.Duration) int {
	sig := cancel.New()
	go func() {
		time.Sleep(timeout)
		sig.Cancel()
	}()

	snap, err := facade.RunOnce(sig, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rcuctl: %v\n", err)
		return exitTransportFailure
	}

	for idx, v := range snap.Values {
		fmt.Printf("0x%02X = %s\n", idx, v)
	}
	for idx, fields := range snap.Fields {
		for name, v := range fields {
			fmt.Printf("0x%02X.%s = %s\n", idx, name, v)
		}
	}
	for idx, w := range snap.Warnings {
		fmt.Fprintf(os.Stderr, "rcuctl: warning: 0x%02X: %v\n", idx, &w)
	}

	if snap.Partial {
		return exitCollectionTimeout
	}
	return exitOK
}
