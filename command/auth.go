package command

import (
	"encoding/base64"

	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"

	"github.com/Zereker/imapnio"
)

// login is LOGIN; its bytes carry the password and are never logged.
type login struct {
	segmented
}

func (*login) Sensitive() bool { return true }

// Login returns a LOGIN command. Credentials that cannot be quoted are sent
// as literals.
func Login(username, password string) imapnio.Command {
	return &login{segmented{name: "LOGIN", build: func(b *builder) {
		b.str(username).str(password)
	}}}
}

// Authenticate runs a SASL exchange through the AUTHENTICATE command.
// Challenges and responses are base64 encoded on the wire.
type Authenticate struct {
	client sasl.Client
	// initialResponse sends the client's first message with the command
	// (RFC 4959) instead of waiting for an empty challenge.
	initialResponse bool

	ir        []byte
	irPending bool
}

var (
	_ imapnio.Command          = (*Authenticate)(nil)
	_ imapnio.SensitiveCommand = (*Authenticate)(nil)
)

// NewAuthenticate returns an AUTHENTICATE command driven by client. Pass
// saslIR when the server announces the SASL-IR capability.
func NewAuthenticate(client sasl.Client, saslIR bool) *Authenticate {
	return &Authenticate{client: client, initialResponse: saslIR}
}

// Plain returns AUTHENTICATE PLAIN for username and password.
func Plain(username, password string, saslIR bool) *Authenticate {
	return NewAuthenticate(sasl.NewPlainClient("", username, password), saslIR)
}

func (a *Authenticate) Command(tag string) ([]byte, error) {
	mech, ir, err := a.client.Start()
	if err != nil {
		return nil, errors.Wrap(err, "sasl start")
	}

	b := newBuilder(tag, "AUTHENTICATE").atom(mech)
	a.ir, a.irPending = ir, ir != nil
	if a.initialResponse && ir != nil {
		// "=" is an empty initial response.
		enc := "="
		if len(ir) > 0 {
			enc = base64.StdEncoding.EncodeToString(ir)
		}
		b.atom(enc)
		a.irPending = false
	}
	return b.done()[0], nil
}

func (a *Authenticate) Continue(f imapnio.Frame) ([]byte, error) {
	challenge, err := base64.StdEncoding.DecodeString(f.ContinuationText())
	if err != nil {
		return nil, errors.Wrap(err, "decode sasl challenge")
	}

	var resp []byte
	if a.irPending {
		a.irPending = false
		resp = a.ir
	} else {
		resp, err = a.client.Next(challenge)
		if err != nil {
			return nil, errors.Wrap(err, "sasl step")
		}
	}

	line := base64.StdEncoding.EncodeToString(resp) + "\r\n"
	return []byte(line), nil
}

// Terminate cancels the exchange; the server answers with BAD.
func (a *Authenticate) Terminate() ([]byte, error) {
	return []byte("*\r\n"), nil
}

func (a *Authenticate) Sensitive() bool {
	return true
}
