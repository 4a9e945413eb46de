package imapnio

import (
	"crypto/tls"
	"time"
)

// Default configuration values.
const (
	// defaultIdleTimeout is how long the server may stay silent while a
	// response is due.
	defaultIdleTimeout = time.Minute
	// defaultReadBufferSize is the size of a single transport read.
	defaultReadBufferSize = 16 * 1024
	// defaultTagPrefix is prepended to the tag counter.
	defaultTagPrefix = "a"
	// defaultDialTimeout bounds connect, TLS handshake and greeting.
	defaultDialTimeout = 30 * time.Second
)

// options holds the configuration for a session.
type options struct {
	logger Logger

	idleTimeout    time.Duration // silence tolerated while a response is due
	writeTimeout   time.Duration // per-write deadline, zero for none
	maxLineLength  int           // maximum size of a single protocol line
	readBufferSize int           // size of one transport read
	tagPrefix      string        // letter prefix of generated tags

	// Dial only.
	tlsConfig   *tls.Config
	dialTimeout time.Duration
}

// Option is a function that configures session options.
type Option func(*options)

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.maxLineLength <= 0 {
		opts.maxLineLength = DefaultMaxLineLength
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.tagPrefix == "" {
		opts.tagPrefix = defaultTagPrefix
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// IdleTimeoutOption returns an Option that sets the inactivity timeout.
// A command that is waiting for its response fails once the server has been
// silent this long, unless the command allows the server to idle.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// WriteTimeoutOption returns an Option that sets a deadline for each write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// MaxLineLengthOption returns an Option that bounds a single response line.
// Longer lines are a fatal decode error for the connection.
func MaxLineLengthOption(size int) Option {
	return func(o *options) {
		o.maxLineLength = size
	}
}

// ReadBufferSizeOption returns an Option that sets the size of a single read
// from the transport.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// TagPrefixOption returns an Option that sets the tag prefix letter(s).
func TagPrefixOption(prefix string) Option {
	return func(o *options) {
		o.tagPrefix = prefix
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// TLSOption returns an Option that makes Dial wrap the connection in TLS.
// ServerName is filled from the dialed host when empty.
func TLSOption(config *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = config
	}
}

// DialTimeoutOption returns an Option that bounds connect, TLS handshake and
// greeting in Dial.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}
