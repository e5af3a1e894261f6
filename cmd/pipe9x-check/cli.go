package main

import "flag"

// Options holds CLI options for the check tool.
type Options struct {
	ConfigPath    string
	ThreadBackend bool
	ReportPath    string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("pipe9x-check", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&opts.ThreadBackend, "thread", false, "Force the thread-emulated backend")
	fs.StringVar(&opts.ReportPath, "report", "", "Write the run report to this file (overrides config)")
	_ = fs.Parse(args)
	return opts
}
