package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/InsulaLabs/meshsync/internal/config"
	"github.com/InsulaLabs/meshsync/internal/echo"
	"github.com/InsulaLabs/meshsync/internal/events"
	"github.com/InsulaLabs/meshsync/internal/geometry"
	"github.com/InsulaLabs/meshsync/internal/journal"
	"github.com/InsulaLabs/meshsync/internal/prompt"
	"github.com/InsulaLabs/meshsync/internal/session"
	"github.com/InsulaLabs/meshsync/internal/upload"
)

var (
	logger *slog.Logger

	configPath          string
	initConfigPath      string
	filePath            string
	username            string
	password            string
	debug               bool
	port                int
	strategy            string
	journalDir          string
	journalDump         string
	terminateOnComplete bool
	secure              bool
	skipVerify          bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&initConfigPath, "init-config", "", "Write a default configuration file to this path and exit")
	flag.StringVar(&filePath, "f", "", "Geometry file to upload (.ply, .obj, .gltf, .glb)")
	flag.StringVar(&filePath, "file", "", "Geometry file to upload (.ply, .obj, .gltf, .glb)")
	flag.StringVar(&username, "u", "", "Username to authenticate with")
	flag.StringVar(&username, "username", "", "Username to authenticate with")
	flag.StringVar(&password, "p", "", "Password for the first authentication attempt")
	flag.StringVar(&password, "password", "", "Password for the first authentication attempt")
	flag.BoolVar(&debug, "d", false, "Print every received command and track echoes")
	flag.BoolVar(&debug, "debug", false, "Print every received command and track echoes")
	flag.IntVar(&port, "port", config.DefaultPort, "Server port")
	flag.StringVar(&strategy, "strategy", config.DefaultStrategy, "Upload strategy: buffered or streaming")
	flag.StringVar(&journalDir, "journal", "", "Record every command of the session into this directory")
	flag.StringVar(&journalDump, "journal-dump", "", "Print the sessions recorded in this directory and exit")
	flag.BoolVar(&terminateOnComplete, "terminate-on-complete", false, "Disconnect once the upload has been sent")
	flag.BoolVar(&secure, "secure", false, "Connect with wss://")
	flag.BoolVar(&skipVerify, "skip-verify", false, "Skip TLS certificate verification")
	flag.Usage = printUsage
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] %s\n\n", os.Args[0], color.CyanString("<server-address>"))
	fmt.Fprintf(os.Stderr, "Uploads a mesh to a scene graph server as an object node with a linked mesh node.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s -f bunny.ply -u joe localhost\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -f scene.glb -strategy streaming -port 4950 verse.example.com\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -journal-dump ./journal\n", os.Args[0])
}

func fatal(msg string, err error) {
	os.Exit(fail(msg, err))
}

// fail reports err and returns the exit status, so deferred cleanup still runs.
func fail(msg string, err error) int {
	if logger != nil {
		logger.Error(msg, "error", err)
	}
	fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.RedString("Error:"), msg, err)
	return 1
}

// resolveConfig layers the flags that were set explicitly over the config
// file, or over the defaults when no file is given.
func resolveConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "f", "file":
			cfg.Upload.File = filePath
		case "u", "username":
			cfg.Credentials.Username = username
		case "p", "password":
			cfg.Credentials.Password = password
		case "d", "debug":
			cfg.Debug = debug
		case "port":
			cfg.Server.Port = port
		case "strategy":
			cfg.Upload.Strategy = strategy
		case "journal":
			cfg.Diagnostics.JournalDir = journalDir
		case "terminate-on-complete":
			cfg.Upload.TerminateOnComplete = terminateOnComplete
		case "secure":
			cfg.Server.Secure = secure
		case "skip-verify":
			cfg.Server.SkipVerify = skipVerify
		}
	})
	if flag.NArg() > 0 {
		cfg.Server.Address = flag.Arg(0)
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if initConfigPath != "" {
		if err := config.GenerateConfig(initConfigPath); err != nil {
			fatal("Failed to write configuration", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", color.CyanString(initConfigPath))
		return
	}

	if journalDump != "" {
		logger = newLogger(config.DefaultLogLevel)
		if err := dumpJournal(journalDump, os.Stdout); err != nil {
			fatal("Failed to dump journal", err)
		}
		return
	}

	cfg, err := resolveConfig()
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrServerMissing) || errors.Is(err, config.ErrFileMissing) {
			fmt.Fprintf(os.Stderr, "%s %v\n\n", color.RedString("Error:"), err)
			printUsage()
			os.Exit(1)
		}
		fatal("Invalid configuration", err)
	}

	logger = newLogger(cfg.Logging.Level)
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	strat, err := upload.ParseStrategy(cfg.Upload.Strategy)
	if err != nil {
		return fail("Invalid upload strategy", err)
	}

	uploader, header, err := upload.NewUploader(strat, cfg.Upload.File)
	if err != nil {
		return fail("Failed to read geometry", err)
	}
	logGeometry(cfg.Upload.File, strat, uploader, header)

	sess, err := session.Dial(context.Background(), session.Config{
		Address:    cfg.Server.Address,
		Port:       cfg.Server.Port,
		Path:       cfg.Server.Path,
		Secure:     cfg.Server.Secure,
		SkipVerify: cfg.Server.SkipVerify,
		SendRate:   cfg.Transport.SendRate,
		SendBurst:  cfg.Transport.SendBurst,
		QueueSize:  cfg.Transport.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return fail("Failed to connect", err)
	}
	defer sess.Close()
	logger.Info("Connected", "server", color.CyanString(cfg.Server.Address), "port", cfg.Server.Port, "session", sess.ID.String())

	ps := events.NewPubSub(events.Config{})
	diag, err := attachDiagnostics(cfg, ps, sess.ID.String())
	if err != nil {
		return fail("Failed to start diagnostics", err)
	}
	defer diag.close()

	machine, err := upload.New(upload.Config{
		Gateway:  sess,
		Uploader: uploader,
		Credentials: upload.Credentials{
			Username: cfg.Credentials.Username,
			Password: cfg.Credentials.Password,
		},
		Prompter:            prompt.NewTerminal(),
		Events:              ps,
		SessionID:           sess.ID.String(),
		Priority:            uint8(cfg.Upload.Priority),
		ProgressEvery:       cfg.Upload.ProgressEvery,
		TerminateOnComplete: cfg.Upload.TerminateOnComplete,
		Logger:              logger,
	})
	if err != nil {
		return fail("Failed to create upload", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var interrupted atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go watchSignals(sigCh, done, func() { signal.Stop(sigCh) }, sess.Terminate, &interrupted)

	ticker := time.NewTicker(cfg.Transport.PumpInterval)
	defer ticker.Stop()

	for range ticker.C {
		diag.sweep()

		err := sess.Pump(machine)
		if err == nil {
			continue
		}
		diag.report()

		var terminated *upload.TerminatedError
		var closed *session.ClosedError
		switch {
		case errors.As(err, &terminated):
			fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("Session ended:"), terminated.Reason.String())
			return 0
		case errors.As(err, &closed) && machine.Context().UploadDone() && cfg.Upload.TerminateOnComplete:
			logger.Info("Session closed after upload")
			return 0
		case errors.As(err, &closed) && interrupted.Load():
			logger.Info("Session closed after interrupt")
			return 0
		case errors.As(err, &closed):
			return fail("Session closed", closed)
		default:
			if termErr := sess.Terminate(); termErr != nil {
				logger.Debug("Failed to send terminate", "error", termErr)
			}
			return fail("Session failed", err)
		}
	}
	return 0
}

// watchSignals waits for the first signal, stops signal delivery so a second
// one gets the default disposition and kills the process, then asks the
// server to end the session. It runs beside the pump loop, which may be busy
// uploading for a long time.
func watchSignals(sigCh <-chan os.Signal, done <-chan struct{}, stop func(), terminate func() error, interrupted *atomic.Bool) {
	select {
	case sig := <-sigCh:
		interrupted.Store(true)
		stop()
		logger.Info("Received signal, terminating session", "signal", sig.String())
		if err := terminate(); err != nil {
			logger.Warn("Failed to send terminate", "error", err)
		}
	case <-done:
	}
}

func logGeometry(path string, strat upload.Strategy, u upload.Uploader, h geometry.Header) {
	vertices, faces := any(h.Vertices), any(h.Faces)
	if h.Vertices == geometry.Unknown {
		vertices = "unknown"
	}
	if h.Faces == geometry.Unknown {
		faces = "unknown"
	}
	args := []any{"file", path, "format", h.Format, "strategy", string(strat), "vertices", vertices, "faces", faces}
	if b, ok := u.(*upload.BufferedUploader); ok && len(b.Buffer.Vertices) > 0 {
		box := b.Buffer.Bounds()
		args = append(args,
			"min", fmt.Sprintf("%.4g %.4g %.4g", box.Min[0], box.Min[1], box.Min[2]),
			"max", fmt.Sprintf("%.4g %.4g %.4g", box.Max[0], box.Max[1], box.Max[2]))
	}
	logger.Info("Geometry loaded", args...)
}

type diagnostics struct {
	journal *journal.Journal
	tracker *echo.Tracker
	unsubs  []events.Unsubscriber
}

// attachDiagnostics subscribes the journal when a directory is configured and
// the echo tracker in debug mode.
func attachDiagnostics(cfg *config.Config, ps events.PubSub, run string) (*diagnostics, error) {
	d := &diagnostics{}
	subscribe := func(sub events.TopicSubscriber) error {
		for _, topic := range events.DefaultTopics {
			unsub, err := ps.Subscribe(topic, sub)
			if err != nil {
				return err
			}
			d.unsubs = append(d.unsubs, unsub)
		}
		return nil
	}

	if cfg.Diagnostics.JournalDir != "" {
		j, err := journal.Open(journal.Config{
			Logger:    logger,
			Directory: cfg.Diagnostics.JournalDir,
			Run:       run,
		})
		if err != nil {
			return nil, err
		}
		d.journal = j
		if err := subscribe(j); err != nil {
			d.close()
			return nil, err
		}
		logger.Info("Journaling session", "dir", cfg.Diagnostics.JournalDir, "run", run)
	}

	if cfg.Debug {
		d.tracker = echo.New(echo.Config{
			Logger:  logger,
			Timeout: cfg.Diagnostics.EchoTimeout,
		})
		if err := subscribe(d.tracker); err != nil {
			d.close()
			return nil, err
		}
	}
	return d, nil
}

func (d *diagnostics) sweep() {
	if d.tracker != nil {
		d.tracker.Sweep()
	}
}

func (d *diagnostics) report() {
	if d.tracker == nil {
		return
	}
	s := d.tracker.Stats()
	logger.Info("Echo summary", "confirmed", s.Confirmed, "mismatched", s.Mismatched, "missed", s.Missed, "pending", s.Pending)
}

func (d *diagnostics) close() {
	for _, unsub := range d.unsubs {
		unsub()
	}
	if d.tracker != nil {
		d.tracker.Stop()
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			logger.Warn("Failed to close journal", "error", err)
		}
	}
}
