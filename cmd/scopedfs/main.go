package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/scopedfs/internal/logger"
	"github.com/marmos91/scopedfs/pkg/config"
	"github.com/marmos91/scopedfs/pkg/document"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/materializer"
	"github.com/marmos91/scopedfs/pkg/media"
	"github.com/marmos91/scopedfs/pkg/mediaindex"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storage"
	"github.com/marmos91/scopedfs/pkg/storagepath"
	"github.com/marmos91/scopedfs/pkg/transfer"
)

const usage = `scopedfs - scoped storage on an emulated device

Usage:
  scopedfs <command> [flags] [arguments]

Commands:
  init                     Write a default configuration file
  serve                    Run the grant sweep and the metrics endpoint until interrupted
  resolve <path>...        Show how paths resolve on the device
  mkdirs <path>...         Create directories and their missing parents
  create <path>            Create a file (flags: -mime, -new)
  copy <src>... <target>   Copy files and directories into a directory
  move <src>... <target>   Move files and directories into a directory
  access <volume> [base]   Ask for a document tree grant (the tree is read from stdin)
  grants list|release|sweep
  media create|list <category> ...

Every command accepts -config <path> and -log-level <level>.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "serve":
		err = runServe(args)
	case "resolve":
		err = withStorage("resolve", args, nil, runResolve)
	case "mkdirs":
		err = withStorage("mkdirs", args, nil, runMkdirs)
	case "create":
		err = runCreate(args)
	case "copy", "move":
		err = runTransfer(cmd, args)
	case "access":
		err = withStorage("access", args, stdinPicker{}, runAccess)
	case "grants":
		err = runGrants(args)
	case "media":
		err = runMedia(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("%s: %v", cmd, err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// commonFlags registers the flags every device command accepts.
type commonFlags struct {
	configPath *string
	logLevel   *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		configPath: fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/scopedfs/config.yaml)"),
		logLevel:   fs.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)"),
	}
}

// loadConfig loads the configuration and configures the logger from it.
func loadConfig(c commonFlags) (*config.Config, error) {
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return nil, err
	}
	if *c.logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(*c.logLevel)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	return cfg, nil
}

// openStorage loads the configuration and wires the device.
func openStorage(ctx context.Context, c commonFlags, picker platform.Picker) (*config.Config, *storage.Storage, *config.MetricsResult, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	m := config.InitializeMetrics(cfg)
	s, err := config.Initialize(ctx, cfg, picker, m)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, s, m, nil
}

// withStorage runs fn against a freshly opened device with the positional
// arguments left after flag parsing.
func withStorage(name string, args []string, picker platform.Picker, fn func(context.Context, *storage.Storage, []string) error) error {
	fs, c := newFlagSet(name)
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, s, _, err := openStorage(ctx, c, picker)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(context.Background()) }()

	return fn(ctx, s, fs.Args())
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "Where to write the file (default: $XDG_CONFIG_HOME/scopedfs/config.yaml)")
	force := fs.Bool("force", false, "Overwrite an existing file")
	_ = fs.Parse(args)

	if *configPath != "" {
		if err := config.InitConfigToPath(*configPath, *force); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return nil
	}

	path, err := config.InitConfig(*force)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

// runServe keeps the device open with the grant sweep running and the
// metrics endpoint served until a signal arrives.
func runServe(args []string) error {
	fs, c := newFlagSet("serve")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	_ = fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, s, m, err := openStorage(ctx, c, nil)
	if err != nil {
		return err
	}

	fmt.Println("scopedfs - scoped storage device")
	logger.Info("Device: type=%s package=%s", cfg.Device.Type, cfg.Device.PackageName)
	logger.Info("Platform: %s", s.Capabilities())
	if cfg.Sweep.Enabled {
		logger.Info("Grant sweep every %v (dry_run=%v)", cfg.Sweep.Interval, cfg.Sweep.DryRun)
	} else {
		logger.Info("Grant sweep disabled")
	}

	s.Start()

	serverDone := make(chan error, 1)
	if m.Server != nil {
		m.Server.SetStatus(s.Status)
		go func() {
			serverDone <- m.Server.Start(ctx)
		}()
		logger.Info("Metrics served on port %d", m.Server.Port())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Device is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverDone:
		if err != nil {
			logger.Error("Metrics server error: %v", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()

	if m.Server != nil {
		if err := m.Server.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error: %v", err)
		}
	}
	if err := s.Close(shutdownCtx); err != nil {
		return fmt.Errorf("device shutdown: %w", err)
	}

	logger.Info("Device stopped gracefully")
	return nil
}

func runResolve(ctx context.Context, s *storage.Storage, paths []string) error {
	if len(paths) == 0 {
		return errors.New("at least one path is required")
	}
	for _, p := range paths {
		abs, err := s.ToAbsolutePath(p)
		if err != nil {
			fmt.Printf("%s\tinvalid: %v\n", p, err)
			continue
		}
		compact, _ := s.ToCompactPath(p)

		kind := "-"
		if f, err := s.Find(ctx, p, false); err == nil {
			kind = f.Kind().String()
		} else if k := file.KindOf(err); k != file.NotFound {
			kind = k.String()
		}

		fmt.Printf("%s\tabsolute=%s\tcompact=%s\treadable=%v\twritable=%v\thandle=%s\n",
			p, abs, compact, s.IsAccessible(ctx, p, false), s.IsAccessible(ctx, p, true), kind)
	}
	return nil
}

func runMkdirs(ctx context.Context, s *storage.Storage, paths []string) error {
	if len(paths) == 0 {
		return errors.New("at least one path is required")
	}
	dirs, err := s.MkdirsBatch(ctx, paths, true)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		fmt.Println(d.URI())
	}
	return nil
}

func runCreate(args []string) error {
	fs, c := newFlagSet("create")
	mimeType := fs.String("mime", "application/octet-stream", "MIME type of the new file")
	createNew := fs.Bool("new", false, "Pick a free \"name (n)\" when the name is taken instead of reusing the file")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("exactly one path is required")
	}

	ctx := context.Background()
	_, s, _, err := openStorage(ctx, c, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	mode := materializer.ModeReuse
	if *createNew {
		mode = materializer.ModeCreateNew
	}
	f, err := s.CreateFile(ctx, fs.Arg(0), *mimeType, mode)
	if err != nil {
		return err
	}
	fmt.Println(f.URI())
	return nil
}

func runTransfer(op string, args []string) error {
	fs, c := newFlagSet(op)
	onConflict := fs.String("conflict", "skip", "Answer to every conflict (skip, replace, create_new, merge)")
	exclude := fs.String("exclude", "", "Comma-separated glob patterns to leave out")
	skipEmpty := fs.Bool("skip-empty", false, "Leave zero-length files out")
	bandwidth := fs.Uint64("bytes-per-second", 0, "Throughput cap (0 = configured default)")
	_ = fs.Parse(args)

	if fs.NArg() < 2 {
		return errors.New("at least one source and a target are required")
	}
	resolution, err := parseResolution(*onConflict)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, s, _, err := openStorage(ctx, c, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(context.Background()) }()

	paths := fs.Args()
	sources, err := s.FindAll(ctx, paths[:len(paths)-1], op == "move")
	if err != nil {
		return err
	}
	target, err := s.Find(ctx, paths[len(paths)-1], true)
	if err != nil {
		return err
	}

	opts := transfer.Options{
		SkipEmptyFiles: *skipEmpty,
		BytesPerSecond: *bandwidth,
	}
	if *exclude != "" {
		opts.Exclude = strings.Split(*exclude, ",")
	}

	cb := transfer.Callbacks{
		OnParentConflicts: func(conflicts []transfer.ParentConflict) {
			for i := range conflicts {
				conflicts[i].Resolution = resolution
				logger.Info("Conflict on %s: %s", conflicts[i].Existing.Name(), resolution)
			}
		},
		OnContentConflicts: func(conflicts []transfer.ContentConflict) {
			for i := range conflicts {
				conflicts[i].Resolution = resolution
			}
			logger.Info("%d file(s) already exist: %s", len(conflicts), resolution)
		},
		OnFreeSpace: func(check *transfer.FreeSpaceCheck) bool {
			logger.Debug("Free space: %d bytes, required: %d bytes", check.Free, check.Required)
			return check.Fits()
		},
		OnProgress: func(p transfer.Progress) {
			fmt.Printf("\r%5.1f%%  %d/%d files  %.0f B/s", p.Percent, p.FilesDone, p.TotalFiles, p.BytesPerSecond)
		},
	}

	// Callbacks are answered on a single goroutine so progress lines never
	// interleave with conflict prompts.
	d := transfer.NewSerialDispatcher(16)
	defer d.Close()

	var res transfer.Result
	if op == "move" {
		res = s.Move(ctx, sources, target, opts, cb, d)
	} else {
		res = s.Copy(ctx, sources, target, opts, cb, d)
	}

	fmt.Printf("\n%s: %d/%d transferred, %d skipped, %d bytes\n",
		op, res.TransferredFiles, res.TotalFiles, res.SkippedFiles, res.Bytes)
	if res.Err != nil {
		return res.Err
	}
	if !res.Success {
		return errors.New("transfer incomplete")
	}
	return nil
}

func parseResolution(name string) (transfer.Resolution, error) {
	for _, r := range []transfer.Resolution{transfer.Skip, transfer.Replace, transfer.CreateNew, transfer.Merge} {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown conflict resolution %q", name)
}

// stdinPicker stands in for the system document tree picker: it prints the
// suggested location and reads the chosen tree as a compact path.
type stdinPicker struct{}

func (stdinPicker) LaunchDocumentTreePicker(ctx context.Context, hint storagepath.Path) (string, error) {
	fmt.Printf("Pick a directory to grant (suggested %s, empty to cancel): ", hint.Compact())

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", platform.ErrPickerCanceled
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", platform.ErrPickerCanceled
	}
	return document.TreeURI(document.ExternalStorageAuthority, line).String(), nil
}

func runAccess(ctx context.Context, s *storage.Storage, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: access <volume> [base path]")
	}
	base := ""
	if len(args) == 2 {
		base = args[1]
	}

	g, err := s.RequestAccess(ctx, storagepath.VolumeID(args[0]), base)
	if err != nil {
		return err
	}
	fmt.Printf("Granted %s (read=%v write=%v)\n", g.URI, g.Read, g.Write)
	return nil
}

func runGrants(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: grants list|release <uri>|sweep")
	}

	switch args[0] {
	case "list":
		return withStorage("grants list", args[1:], nil, func(ctx context.Context, s *storage.Storage, _ []string) error {
			grants, err := s.Grants(ctx)
			if err != nil {
				return err
			}
			for _, g := range grants {
				fmt.Printf("%s\t%s\tread=%v\twrite=%v\tsince=%s\n",
					g.URI, storagepath.New(g.VolumeID, g.BasePath).Compact(), g.Read, g.Write, g.PersistedAt.Format(time.RFC3339))
			}
			return nil
		})

	case "release":
		return withStorage("grants release", args[1:], nil, func(ctx context.Context, s *storage.Storage, uris []string) error {
			if len(uris) == 0 {
				return errors.New("at least one grant URI is required")
			}
			for _, uri := range uris {
				if err := s.ReleaseGrant(ctx, uri); err != nil {
					return err
				}
			}
			return nil
		})

	case "sweep":
		return withStorage("grants sweep", args[1:], nil, func(ctx context.Context, s *storage.Storage, _ []string) error {
			stats, err := s.SweepGrants(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d grant(s): %d redundant, %d released, %d failed in %v\n",
				stats.GrantCount, stats.RedundantCount, stats.ReleasedCount, stats.FailedCount, stats.Duration())
			return nil
		})

	default:
		return fmt.Errorf("unknown grants command %q", args[0])
	}
}

func runMedia(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: media create|list <category> ...")
	}
	category, err := mediaindex.ParseCategory(args[1])
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		return withStorage("media list", args[2:], nil, func(ctx context.Context, s *storage.Storage, rest []string) error {
			relative := ""
			if len(rest) > 0 {
				relative = rest[0]
			}
			files, err := s.FindAllMedia(ctx, category, relative)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Println(f.URI())
			}
			return nil
		})

	case "create":
		fs, c := newFlagSet("media create")
		dir := fs.String("dir", "", "Standard directory (default: the first one of the category)")
		sub := fs.String("sub", "", "Subfolder below the standard directory")
		mimeType := fs.String("mime", "application/octet-stream", "MIME type of the new file")
		_ = fs.Parse(args[2:])
		if fs.NArg() != 1 {
			return errors.New("exactly one file name is required")
		}
		if *dir == "" {
			*dir = media.Directories(category)[0]
		}

		ctx := context.Background()
		_, s, _, err := openStorage(ctx, c, nil)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close(ctx) }()

		f, err := s.CreateMediaFile(ctx, category, *dir, media.FileDescription{
			Name:      fs.Arg(0),
			SubFolder: *sub,
			MimeType:  *mimeType,
		}, materializer.ModeCreateNew)
		if err != nil {
			return err
		}
		fmt.Println(f.URI())
		return nil

	default:
		return fmt.Errorf("unknown media command %q", args[0])
	}
}
