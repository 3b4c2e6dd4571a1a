package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: msgprep [flags]\n\nPrepare an agent conversation log for an LLM provider.\nThe log is read as a JSON array of messages.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file (default: msgprep.yaml if present)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	flag.StringVar(&opts.inPath, "in", "-", "conversation log to read (- for stdin)")
	flag.BoolVar(&opts.noCache, "no-cache", false, "do not place cache anchors")
	flag.StringVar(&opts.provider, "provider", "", "send the prepared log to this provider and print the reply")
	flag.BoolVar(&opts.send, "send", false, "send to the default provider")
	flag.BoolVar(&opts.diff, "diff", false, "print a unified diff of the input and the prepared log")
	flag.BoolVar(&opts.inspect, "inspect", false, "print a per-message summary with cache anchors")
	flag.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	opts.color = isTerminal(os.Stdout)

	if err := runWithSignals(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runWithSignals(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, opts, os.Stdin, os.Stdout, os.Stderr)
}
