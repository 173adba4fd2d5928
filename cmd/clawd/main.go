// Command clawd is the daemon binary: it loads configuration, wires every
// internal package into an app.Context, starts the IPC listener, and
// exposes a handful of lifecycle and maintenance subcommands around it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"log/slog"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/auth"
	"github.com/clawde-io/clawd/internal/config"
	"github.com/clawde-io/clawd/internal/discovery"
	"github.com/clawde-io/clawd/internal/eventbus"
	"github.com/clawde-io/clawd/internal/ext"
	_ "github.com/clawde-io/clawd/internal/ext/all"
	"github.com/clawde-io/clawd/internal/ext/notify"
	"github.com/clawde-io/clawd/internal/governor"
	"github.com/clawde-io/clawd/internal/ipc"
	"github.com/clawde-io/clawd/internal/provider"
	"github.com/clawde-io/clawd/internal/provider/claude"
	"github.com/clawde-io/clawd/internal/provider/codex"
	"github.com/clawde-io/clawd/internal/provider/generic"
	"github.com/clawde-io/clawd/internal/session"
	"github.com/clawde-io/clawd/internal/store/sqlite"
	"github.com/clawde-io/clawd/internal/worktree"
)

var (
	name    = "clawd"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	sub := "start"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		sub = os.Args[1]
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
	}

	run, ok := subcommands[sub]
	if !ok {
		fmt.Fprintf(os.Stderr, "%s: unknown command %q (want start|stop|status|token|doctor|init)\n", name, sub)
		os.Exit(2)
	}

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

var subcommands = map[string]func(ctx context.Context) error{
	"start":  runStart,
	"stop":   runStop,
	"status": runStatus,
	"token":  runToken,
	"doctor": runDoctor,
	"init":   runInit,
}

// ///////////////////////////////////////////////////////////////////

// runStart wires every internal package into an app.Context, the same
// bundle Shutdown tears back down, and blocks serving IPC until ctx is
// cancelled (into's signal handling does that on SIGINT/SIGTERM).
func runStart(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir, err := expandDataDir(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := writePIDFile(dataDir); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removePIDFile(dataDir)

	storage, err := sqlite.New(ctx, sqliteConfig(cfg, dataDir))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	bus := eventbus.New(storage)

	providers := buildProviderRegistry(cfg)

	var router provider.Router
	if _, err := os.Stat(filepath.Join(dataDir, "routing.js")); err == nil {
		router = provider.NewScriptRouter(dataDir)
	} else {
		router = provider.HeuristicRouter{}
	}

	sessions := session.New(session.Config{
		Storage:   storage,
		Providers: providers,
		Router:    router,
		Publisher: bus,
	})

	worktrees := worktree.New(worktree.Config{
		Storage:   storage,
		Publisher: bus,
	})

	authn, err := auth.New(ctx, auth.Config{
		Storage: storage,
		DataDir: dataDir,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	disc, err := discovery.New(cfg.Server.Alan, name)
	if err != nil {
		return fmt.Errorf("init discovery: %w", err)
	}

	gov := governor.New(governor.Config{
		Storage:                storage,
		Sessions:               sessions,
		Providers:              providers,
		Publisher:              bus,
		Discovery:              disc,
		MaxMemoryPercent:       cfg.Resources.MaxMemoryPercent,
		EmergencyMemoryPercent: cfg.Resources.EmergencyMemoryPercent,
		IdleToWarmSecs:         cfg.Resources.IdleToWarmSecs,
		WarmToColdSecs:         cfg.Resources.WarmToColdSecs,
		ProcessPoolSize:        cfg.Resources.ProcessPoolSize,
		PollIntervalSecs:       cfg.Resources.PollIntervalSecs,
	})
	if err := gov.Start(ctx); err != nil {
		return fmt.Errorf("start governor: %w", err)
	}

	retry := eventbus.NewRetryWorker(storage, bus, disc)
	if err := retry.Start(ctx); err != nil {
		return fmt.Errorf("start dead-letter retry worker: %w", err)
	}

	appCtx := &app.Context{
		Config:    cfg,
		Storage:   storage,
		Bus:       bus,
		Sessions:  sessions,
		Worktrees: worktrees,
		Providers: providers,
		Auth:      authn,
		Governor:  gov,
	}
	defer appCtx.Shutdown(context.Background())

	fanout := notify.NewFanout(appCtx, bus)
	defer fanout.Stop()

	slog.Info("extension handlers registered", "methods", len(ext.Handlers()))

	server := ipc.New(ipc.Config{
		Bind:              cfg.Bind,
		Port:              cfg.Port,
		RateLimitPerSec:   cfg.Server.RateLimitPerSec,
		NewConnRatePerMin: cfg.Server.NewConnRatePerMin,
		ForwardAuth:       cfg.Server.ForwardAuth,
	}, appCtx)

	slog.Info("clawd listening", "bind", cfg.Bind, "port", cfg.Port, "data_dir", dataDir)
	return server.Start(ctx)
}

// runStop signals a running daemon's pid (read from data_dir/clawd.pid) to
// shut down gracefully.
func runStop(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir, err := expandDataDir(cfg.DataDir)
	if err != nil {
		return err
	}

	pid, err := readPIDFile(dataDir)
	if err != nil {
		return fmt.Errorf("clawd is not running (%w)", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	fmt.Printf("sent SIGTERM to clawd (pid %d)\n", pid)
	return nil
}

// runStatus reports whether a daemon process recorded in the pid file is
// still alive.
func runStatus(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir, err := expandDataDir(cfg.DataDir)
	if err != nil {
		return err
	}

	pid, err := readPIDFile(dataDir)
	if err != nil {
		fmt.Println("stopped")
		return nil
	}

	if processAlive(pid) {
		fmt.Printf("running (pid %d)\n", pid)
		return nil
	}

	fmt.Println("stopped (stale pid file)")
	return nil
}

// runToken prints the daemon's bearer token, creating it if this is the
// first run (auth.New always loads-or-creates data_dir/auth_token).
func runToken(ctx context.Context) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	fs.Parse(os.Args[1:])
	if fs.NArg() == 0 || fs.Arg(0) != "show" {
		return errors.New("usage: clawd token show")
	}

	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir, err := expandDataDir(cfg.DataDir)
	if err != nil {
		return err
	}

	token, err := os.ReadFile(filepath.Join(dataDir, "auth_token"))
	if errors.Is(err, os.ErrNotExist) {
		authn, err := auth.New(ctx, auth.Config{DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("create bearer token: %w", err)
		}
		_ = authn
		token, err = os.ReadFile(filepath.Join(dataDir, "auth_token"))
		if err != nil {
			return fmt.Errorf("read newly created bearer token: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read bearer token: %w", err)
	}

	fmt.Println(strings.TrimSpace(string(token)))
	return nil
}

// runDoctor runs the same health checks internal/ext/doctor exposes over
// IPC, but standalone, against a storage handle opened for this process
// only (no daemon needs to be running).
func runDoctor(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir, err := expandDataDir(cfg.DataDir)
	if err != nil {
		return err
	}

	storage, err := sqlite.New(ctx, sqliteConfig(cfg, dataDir))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	appCtx := &app.Context{
		Config:    cfg,
		Storage:   storage,
		Providers: buildProviderRegistry(cfg),
	}

	handler, ok := ext.Handlers()["doctor.run"]
	if !ok {
		return errors.New("doctor.run handler not registered")
	}
	report, err := handler(ctx, appCtx, nil)
	if err != nil {
		return fmt.Errorf("run doctor checks: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runInit scaffolds .claw/ in the target repo (default: current directory).
// --template names a starter routing.js classifier to copy into data_dir,
// since routing.js is the one piece of per-operator configuration that
// benefits from a starting point (spec §4.2/§6).
func runInit(ctx context.Context) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	template := fs.String("template", "", "starter routing.js template to install (heuristic, always-claude, always-codex)")
	repo := fs.String("repo", ".", "repository to scaffold .claw/ in")
	fs.Parse(os.Args[1:])

	repoPath, err := filepath.Abs(*repo)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}

	worktreesDir := filepath.Join(repoPath, ".claw", "worktrees")
	if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
		return fmt.Errorf("create .claw/worktrees: %w", err)
	}
	fmt.Printf("scaffolded %s\n", filepath.Join(repoPath, ".claw"))

	if *template == "" {
		return nil
	}

	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir, err := expandDataDir(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	src, ok := routingTemplates[*template]
	if !ok {
		names := make([]string, 0, len(routingTemplates))
		for k := range routingTemplates {
			names = append(names, k)
		}
		return fmt.Errorf("unknown template %q (have %s)", *template, strings.Join(names, ", "))
	}

	dst := filepath.Join(dataDir, "routing.js")
	if err := os.WriteFile(dst, []byte(src), 0o644); err != nil {
		return fmt.Errorf("write routing.js: %w", err)
	}
	fmt.Printf("installed template %q at %s\n", *template, dst)
	return nil
}

var routingTemplates = map[string]string{
	"heuristic": "function route(input) {\n  return \"\";\n}\n",
	"always-claude": "function route(input) {\n  return \"claude\";\n}\n",
	"always-codex": "function route(input) {\n  return \"codex\";\n}\n",
}

// ///////////////////////////////////////////////////////////////////

func buildProviderRegistry(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry()

	if p, ok := cfg.Providers["claude"]; ok {
		reg.Register(claude.New(claude.Config{Path: p.Path}))
	}
	if p, ok := cfg.Providers["codex"]; ok {
		reg.Register(codex.New(codex.Config{Path: p.Path}))
	}
	for name, p := range cfg.Providers {
		if name == "claude" || name == "codex" {
			continue
		}
		reg.Register(generic.New(generic.Config{ProviderName: name, Path: p.Path}))
	}

	return reg
}

func sqliteConfig(cfg *config.Config, dataDir string) sqlite.Config {
	sc := sqlite.Config{
		Datasource:  filepath.Join(dataDir, "clawd.db"),
		TablePrefix: cfg.Store.TablePrefix,
	}
	sc.Migrate.Table = cfg.Store.Migrate.Table
	sc.Migrate.Values = cfg.Store.Migrate.Values
	return sc
}

func expandDataDir(dataDir string) (string, error) {
	if !strings.HasPrefix(dataDir, "~") {
		return dataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(dataDir, "~")), nil
}

const pidFileName = "clawd.pid"

func writePIDFile(dataDir string) error {
	path := filepath.Join(dataDir, pidFileName)
	if pid, err := readPIDFile(dataDir); err == nil && processAlive(pid) {
		return fmt.Errorf("clawd already running (pid %d)", pid)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(dataDir string) {
	_ = os.Remove(filepath.Join(dataDir, pidFileName))
}

func readPIDFile(dataDir string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, pidFileName))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
