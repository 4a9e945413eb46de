package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Zereker/imapnio"
	"github.com/Zereker/imapnio/command"
)

func capabilityCommand() *cli.Command {
	return &cli.Command{
		Name:  "capability",
		Usage: "Print the server capabilities",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			cl, err := connect(ctx, c)
			if err != nil {
				return err
			}
			defer cl.logout(ctx)

			resp, err := cl.run(ctx, command.Capability())
			if err != nil {
				return err
			}
			printCaps(c.App.Writer, command.Capabilities(resp))
			return nil
		},
	}
}

func printCaps(w io.Writer, caps imap.CapSet) {
	names := make([]string, 0, len(caps))
	for c := range caps {
		names = append(names, string(c))
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Log in, examine a mailbox and report its counters",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mailbox", Aliases: []string{"m"}, Value: "INBOX"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			start := time.Now()
			cl, err := connect(ctx, c)
			if err != nil {
				return err
			}
			defer cl.logout(ctx)

			resp, err := cl.run(ctx, command.Select(c.String("mailbox"), true))
			if err != nil {
				return err
			}
			mbox, err := command.ParseSelect(resp)
			if err != nil {
				return err
			}
			if _, err := cl.run(ctx, command.Noop()); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "%s: %d messages, %d recent, uidvalidity %d, uidnext %d\n",
				c.String("mailbox"), mbox.Exists, mbox.Recent, mbox.UIDValidity, mbox.UIDNext)
			fmt.Fprintf(c.App.Writer, "session %s ok in %s (compressed: %v)\n",
				cl.session.ID(), time.Since(start).Round(time.Millisecond), cl.session.Compressed())
			return nil
		},
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Send one raw command and print the response",
		ArgsUsage: "<command line without tag>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "select", Usage: "select this mailbox first"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("exec needs a command line", 2)
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			cl, err := connect(ctx, c)
			if err != nil {
				return err
			}
			defer cl.logout(ctx)

			if mailbox := c.String("select"); mailbox != "" {
				if _, err := cl.run(ctx, command.Select(mailbox, false)); err != nil {
					return err
				}
			}

			resp, err := cl.await(ctx, &command.Raw{Line: strings.Join(c.Args().Slice(), " ")})
			if err != nil {
				return err
			}
			printFrames(c.App.Writer, resp.Frames)
			if !resp.OK() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printFrames(w io.Writer, frames []imapnio.Frame) {
	for _, f := range frames {
		fmt.Fprint(w, f.String())
	}
}

func idleCommand() *cli.Command {
	return &cli.Command{
		Name:  "idle",
		Usage: "IDLE on a mailbox until interrupted, then print what the server sent",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mailbox", Aliases: []string{"m"}, Value: "INBOX"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long (0 waits for a signal)"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			cl, err := connect(ctx, c)
			if err != nil {
				return err
			}
			defer cl.logout(context.Background())

			if _, err := cl.run(ctx, command.Select(c.String("mailbox"), true)); err != nil {
				return err
			}

			future, err := cl.session.Execute(command.Idle{})
			if err != nil {
				return err
			}

			var timer <-chan time.Time
			if d := c.Duration("duration"); d > 0 {
				timer = time.After(d)
			}
			select {
			case <-ctx.Done():
			case <-timer:
			case <-future.Done():
			}

			if !future.IsDone() {
				if _, err := cl.session.Terminate(command.Idle{}); err != nil {
					return errors.Wrap(err, "terminate idle")
				}
			}

			resp, err := future.WaitTimeout(commandTimeout)
			if err != nil {
				return err
			}
			printFrames(c.App.Writer, resp.Untagged())
			return resp.Err()
		},
	}
}

func appendCommand() *cli.Command {
	return &cli.Command{
		Name:      "append",
		Usage:     "Upload a message to a mailbox",
		ArgsUsage: "[file, - or empty for stdin]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mailbox", Aliases: []string{"m"}, Value: "INBOX"},
			&cli.StringSliceFlag{Name: "flag", Usage: `message flag, e.g. "\Seen"`},
		},
		Action: func(c *cli.Context) error {
			msg, err := readMessage(c.Args().First())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			cl, err := connect(ctx, c)
			if err != nil {
				return err
			}
			defer cl.logout(ctx)

			options := &command.AppendOptions{Time: time.Now()}
			for _, f := range c.StringSlice("flag") {
				options.Flags = append(options.Flags, imap.Flag(f))
			}

			resp, err := cl.run(ctx, command.Append(c.String("mailbox"), msg, options))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, resp.Final().Text())
			return nil
		},
	}
}

func readMessage(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}

	msg, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read message %q", path)
	}
	return msg, nil
}
