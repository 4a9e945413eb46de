package command

import (
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/Zereker/imapnio"
)

// dateTimeLayout is the IMAP date-time format used by APPEND.
const dateTimeLayout = "02-Jan-2006 15:04:05 -0700"

// AppendOptions are the optional APPEND arguments.
type AppendOptions struct {
	Flags []imap.Flag
	Time  time.Time
}

// Append returns an APPEND command that uploads msg to mailbox. The message
// is always sent as a literal.
func Append(mailbox string, msg []byte, options *AppendOptions) imapnio.Command {
	return &segmented{name: "APPEND", build: func(b *builder) {
		b.str(mailbox)
		if options != nil {
			if len(options.Flags) > 0 {
				flags := make([]string, len(options.Flags))
				for i, f := range options.Flags {
					flags[i] = string(f)
				}
				b.list(flags)
			}
			if !options.Time.IsZero() {
				b.str(options.Time.Format(dateTimeLayout))
			}
		}
		b.literal(msg)
	}}
}
