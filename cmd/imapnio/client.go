package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Zereker/imapnio"
	"github.com/Zereker/imapnio/command"
	"github.com/Zereker/imapnio/config"
)

const commandTimeout = 30 * time.Second

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "account file (YAML)", EnvVars: []string{"IMAPNIO_CONFIG"}},
		&cli.StringFlag{Name: "addr", Usage: "server address, host:port"},
		&cli.BoolFlag{Name: "tls", Usage: "use implicit TLS"},
		&cli.BoolFlag{Name: "insecure", Usage: "skip TLS certificate verification"},
		&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "login name"},
		&cli.StringFlag{Name: "password", Usage: "login password", EnvVars: []string{"IMAPNIO_PASSWORD"}},
		&cli.StringFlag{Name: "mechanism", Usage: "login or plain"},
		&cli.BoolFlag{Name: "compress", Usage: "enable COMPRESS=DEFLATE after login"},
		&cli.BoolFlag{Name: "debug", Usage: "log protocol traffic"},
	}
}

// loadConfig merges the account file with the command line flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("addr") {
		cfg.Address = c.String("addr")
	}
	if c.IsSet("tls") {
		cfg.TLS.Enabled = c.Bool("tls")
	}
	if c.IsSet("insecure") {
		cfg.TLS.InsecureSkipVerify = c.Bool("insecure")
	}
	if c.IsSet("user") {
		cfg.Auth.Username = c.String("user")
	}
	if c.IsSet("password") {
		cfg.Auth.Password = c.String("password")
	}
	if c.IsSet("mechanism") {
		cfg.Auth.Mechanism = c.String("mechanism")
	}
	if c.IsSet("compress") {
		cfg.Compress = c.Bool("compress")
	}
	if c.Bool("debug") {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	return zap.New(core), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// client is a connected, optionally authenticated session.
type client struct {
	cfg     *config.Config
	session *imapnio.Session
	logger  *zap.Logger
}

// connect dials the server and, when credentials are configured, logs in and
// enables compression.
func connect(ctx context.Context, c *cli.Context) (*client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	session, err := imapnio.Dial(ctx, cfg.Address, cfg.Options(imapnio.LoggerOption(imapnio.ZapLogger(logger)))...)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	cl := &client{cfg: cfg, session: session, logger: logger}
	if err := cl.setup(ctx); err != nil {
		cl.close()
		return nil, err
	}
	return cl, nil
}

func (cl *client) setup(ctx context.Context) error {
	greeting := cl.session.Greeting()
	if cl.cfg.HasCredentials() && !greeting.PreAuth() {
		var login imapnio.Command
		switch cl.cfg.Auth.Mechanism {
		case config.MechanismPlain:
			login = command.Plain(cl.cfg.Auth.Username, cl.cfg.Auth.Password, greeting.Caps.Has("SASL-IR"))
		default:
			login = command.Login(cl.cfg.Auth.Username, cl.cfg.Auth.Password)
		}
		if _, err := cl.run(ctx, login); err != nil {
			return errors.Wrap(err, "login")
		}
	}

	if cl.cfg.Compress {
		if _, err := cl.run(ctx, command.Compress{}); err != nil {
			return errors.Wrap(err, "compress")
		}
	}
	return nil
}

// run executes cmd and waits for a successful completion.
func (cl *client) run(ctx context.Context, cmd imapnio.Command) (*imapnio.Response, error) {
	resp, err := cl.await(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

// await executes cmd and returns its response whatever the final status.
func (cl *client) await(ctx context.Context, cmd imapnio.Command) (*imapnio.Response, error) {
	future, err := cl.session.Execute(cmd)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return future.Wait(waitCtx)
}

// logout sends LOGOUT and closes the session.
func (cl *client) logout(ctx context.Context) {
	if cl.session.IsActive() {
		if _, err := cl.await(ctx, command.Logout()); err != nil {
			cl.logger.Debug("logout failed", zap.Error(err))
		}
	}
	cl.close()
}

func (cl *client) close() {
	_, _ = cl.session.Close().WaitTimeout(5 * time.Second)
	_ = cl.logger.Sync()
}
