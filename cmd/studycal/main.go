package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"studycal/internal/auth"
	"studycal/internal/config"
	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/publish"
	"studycal/internal/scheduler"
	"studycal/internal/store"
	"studycal/internal/syncer"
	"studycal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	owner      string
	issueToken bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("studycal failed", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", flags.configPath, err)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	if conf.Auth.Secret == "" {
		secret, err := newSecret()
		if err != nil {
			return err
		}
		conf.Auth.Secret = secret
		if err := conf.Save(flags.configPath); err != nil {
			return fmt.Errorf("saving generated auth secret: %w", err)
		}
		appLog.Info("generated auth secret", "config_path", flags.configPath)
	}
	tokens, err := auth.NewIssuer(conf.Auth.Secret, conf.Auth.TokenTTL)
	if err != nil {
		return err
	}

	if flags.issueToken {
		if flags.owner == "" {
			return fmt.Errorf("-issue-token needs -owner")
		}
		tok, err := tokens.Issue(flags.owner, auth.ScopeAPI)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	appLog.Info("studycal starting",
		"version", version,
		"listen", conf.Listen,
		"database", conf.Database,
		"public_url", conf.PublicURL,
		"sync_cron", conf.Sync.Cron,
		"sync_concurrency", conf.Sync.Concurrency,
		"once", flags.once,
	)

	if dir := filepath.Dir(conf.Database); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating database dir: %w", err)
		}
	}
	st, err := store.Open(conf.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	fetcher := ics.NewFetcher(conf.Fetch.Timeout, conf.Fetch.UserAgent, conf.Fetch.MaxBodyBytes)
	sy := syncer.New(st, fetcher, conf.Sync.BatchSize)
	sched := scheduler.New(st, sy, conf.Sync.Concurrency)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		return runOnce(ctx, flags.owner, sy, sched)
	}

	if conf.Sync.Cron != "" {
		if err := sched.Start(ctx, conf.Sync.Cron); err != nil {
			return err
		}
		defer sched.Stop()
	}

	pub := publish.New(st, conf.ProductID, conf.UIDDomain)
	srv := web.NewServer(conf, st, sy, pub, tokens)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	appLog.Info("studycal exiting")
	return nil
}

// runOnce syncs one owner (printing the report) or every owner, then
// returns.
func runOnce(ctx context.Context, owner string, sy *syncer.Syncer, sched *scheduler.Scheduler) error {
	if owner == "" {
		_, err := sched.RunOnce(ctx)
		return err
	}
	report, err := sy.Sync(ctx, owner, "")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	appLog.Info("sync finished", "owner", owner, "summary", report.Summary())
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating auth secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/studycal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync pass (all owners, or -owner) and exit")
	flag.StringVar(&cfg.owner, "owner", "", "Owner id for -once or -issue-token")
	flag.BoolVar(&cfg.issueToken, "issue-token", false, "Print an API token for -owner and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
