package cliapp

import (
	"flag"
	"io"
)

const versionString = "1.0.0"
const defaultConfigPath = "./provenance.toml"
const exampleConfigPath = "./provenance.example.toml"

const (
	commandStatus   = "status"
	commandBaseline = "baseline"
	commandPending  = "pending"
	commandCatalog  = "catalog"
	commandSeed     = "seed"
)

const (
	exitOK           = 0
	exitUsage        = 1
	exitUndetermined = 2
)

type cliOptions struct {
	configPath string
	scope      string
	watch      bool
	verbose    bool
	json       bool
	version    bool
	command    string
	args       []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("provenance", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	fs.StringVar(&opts.scope, "scope", "", "Comma separated changeset contexts, overrides resolution.scope")
	fs.BoolVar(&opts.watch, "watch", false, "Re-evaluate status whenever catalog changelogs change")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.json, "json", false, "Print results as JSON")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	rest := fs.Args()
	opts.command = commandStatus
	if len(rest) > 0 {
		opts.command = rest[0]
		rest = rest[1:]
	}
	opts.args = rest
	return opts, nil
}
