package command

import (
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/Zereker/imapnio"
)

const (
	codeCapability  imap.ResponseCode = "CAPABILITY"
	codeUIDValidity imap.ResponseCode = "UIDVALIDITY"
	codeUIDNext     imap.ResponseCode = "UIDNEXT"
	codeReadOnly    imap.ResponseCode = "READ-ONLY"
)

// Capability returns a CAPABILITY command.
func Capability() imapnio.Command {
	return &segmented{name: "CAPABILITY"}
}

// Noop returns a NOOP command. Servers use its completion to deliver pending
// mailbox updates.
func Noop() imapnio.Command {
	return &segmented{name: "NOOP"}
}

// Logout returns a LOGOUT command. The server answers with BYE and closes
// the connection after the tagged OK.
func Logout() imapnio.Command {
	return &segmented{name: "LOGOUT"}
}

// Select returns a SELECT command, or EXAMINE when readOnly is set.
func Select(mailbox string, readOnly bool) imapnio.Command {
	name := "SELECT"
	if readOnly {
		name = "EXAMINE"
	}
	return &segmented{name: name, build: func(b *builder) {
		b.str(mailbox)
	}}
}

// Capabilities collects the capabilities announced in resp, either by
// untagged CAPABILITY responses or by a CAPABILITY response code.
func Capabilities(resp *imapnio.Response) imap.CapSet {
	caps := imap.CapSet{}
	add := func(list string) {
		for _, c := range strings.Fields(list) {
			caps[imap.Cap(c)] = struct{}{}
		}
	}

	for _, f := range resp.Frames {
		if code, args := f.Code(); code == codeCapability {
			add(args)
			continue
		}
		if !f.IsUntagged() {
			continue
		}
		line := strings.TrimRight(f.String(), "\r\n")
		if rest, ok := cutPrefixFold(line, "* CAPABILITY "); ok {
			add(rest)
		}
	}
	return caps
}

// Mailbox is the state reported by SELECT or EXAMINE.
type Mailbox struct {
	Exists      uint32
	Recent      uint32
	UIDValidity uint32
	UIDNext     uint32
	ReadOnly    bool
}

// ParseSelect extracts the mailbox counters from a SELECT or EXAMINE
// response.
func ParseSelect(resp *imapnio.Response) (*Mailbox, error) {
	if err := resp.Err(); err != nil {
		return nil, err
	}

	mbox := &Mailbox{}
	for _, f := range resp.Untagged() {
		line := strings.TrimRight(f.String(), "\r\n")
		fields := strings.Fields(line)
		if len(fields) == 3 {
			switch strings.ToUpper(fields[2]) {
			case "EXISTS":
				mbox.Exists = parseUint32(fields[1])
			case "RECENT":
				mbox.Recent = parseUint32(fields[1])
			}
		}

		switch code, args := f.Code(); code {
		case codeUIDValidity:
			mbox.UIDValidity = parseUint32(args)
		case codeUIDNext:
			mbox.UIDNext = parseUint32(args)
		}
	}

	if code, _ := resp.Final().Code(); code == codeReadOnly {
		mbox.ReadOnly = true
	}
	return mbox, nil
}

func parseUint32(s string) uint32 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
