// Command imapnio drives an IMAP server through an imapnio session.
//
// Usage:
//
//	imapnio [global options] <command> [options]
//
// Connection settings come from --config and can be overridden by flags.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "imapnio",
		Usage:          "Talk to an IMAP server over an imapnio session",
		Version:        version,
		Flags:          globalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			capabilityCommand(),
			checkCommand(),
			execCommand(),
			idleCommand(),
			appendCommand(),
		},
	}
}

// exitErrHandler keeps exit codes set through cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
