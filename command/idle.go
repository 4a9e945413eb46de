package command

import (
	"github.com/klauspost/compress/flate"

	"github.com/Zereker/imapnio"
)

// Idle is the IDLE command (RFC 2177). The server may stay silent for as long
// as it likes; untagged updates accumulate in the response until
// Session.Terminate sends DONE.
type Idle struct{}

var (
	_ imapnio.Command     = Idle{}
	_ imapnio.IdleCommand = Idle{}
)

func (Idle) Command(tag string) ([]byte, error) {
	return []byte(tag + " IDLE\r\n"), nil
}

// Continue sends nothing: "+ idling" only confirms that IDLE started.
func (Idle) Continue(imapnio.Frame) ([]byte, error) {
	return nil, nil
}

func (Idle) Terminate() ([]byte, error) {
	return []byte("DONE\r\n"), nil
}

func (Idle) IdleAllowed() bool {
	return true
}

// Compress is COMPRESS DEFLATE (RFC 4978). Once the server answers OK the
// session inserts a deflate stage in front of the decoder.
type Compress struct {
	// Level is the flate compression level; zero means
	// flate.DefaultCompression.
	Level int
}

var (
	_ imapnio.Command           = Compress{}
	_ imapnio.AugmentingCommand = Compress{}
)

func (Compress) Command(tag string) ([]byte, error) {
	return []byte(tag + " COMPRESS DEFLATE\r\n"), nil
}

func (Compress) Continue(imapnio.Frame) ([]byte, error) {
	return nil, errUnexpectedContinuation
}

func (Compress) Terminate() ([]byte, error) {
	return nil, imapnio.ErrTerminateNotSupported
}

func (c Compress) Augmentation() imapnio.Stage {
	level := c.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	return imapnio.DeflateStage(level)
}
