package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"loanbook/internal/config"
	"loanbook/internal/digest"
	"loanbook/internal/ics"
	appLog "loanbook/internal/log"
	"loanbook/internal/notify"
	"loanbook/internal/receipt"
	"loanbook/internal/record"
	"loanbook/internal/submit"
	"loanbook/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("loanbook starting",
		"listen", conf.Listen,
		"data_dir", conf.DataDir,
		"timezone", conf.Timezone,
		"reminder", conf.Reminder.Path,
		"mail_enabled", conf.Mail.Enabled(),
		"digest_cron", conf.DigestCron,
	)
	if !conf.Mail.Enabled() {
		appLog.Warn("SMTP not configured; submissions will stop at the email step")
	}

	store := record.NewStore(conf.DataDir)
	mailer := notify.NewMailer(conf.Mail)
	reminderOpts := ics.Options{
		Location:     loc,
		RRule:        conf.Reminder.RRule,
		AlarmMinutes: conf.Reminder.AlarmMinutes,
	}

	orch := &submit.Orchestrator{
		Records:   store,
		Receipts:  receipt.NewGenerator(conf.DataDir, conf.Receipt.LogoPath, conf.Receipt.Timeout),
		Reminders: &ics.Writer{Path: conf.Reminder.Path, Opts: reminderOpts},
		Notifier:  mailer,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.DigestCron != "" {
		job := &digest.Job{
			Loans:    store,
			Sender:   mailer,
			RRule:    conf.Reminder.RRule,
			Location: loc,
		}
		sched, err := digest.Schedule(ctx, conf.DigestCron, job)
		if err != nil {
			appLog.Error("failed to schedule digest", err)
			os.Exit(1)
		}
		defer func() { <-sched.Stop().Done() }()
	}

	srv := web.NewServer(conf, store, orch)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}
	appLog.Info("loanbook exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "loanbook.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()

	return cfg
}
