// mailgate is an email ingestion and routing service: it periodically
// fetches messages from an upstream mailbox, canonicalizes and
// rule-evaluates each one, persists it and its attachments, and can
// forward a stored message through an outbound relay.
//
// Usage:
//
//	mailgate serve   Start the scheduler and HTTP server
//	mailgate version Print version information
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/portcall/mailgate/internal/attachstore"
	"github.com/portcall/mailgate/internal/config"
	"github.com/portcall/mailgate/internal/forwarder"
	"github.com/portcall/mailgate/internal/httpapi"
	"github.com/portcall/mailgate/internal/mailbox"
	"github.com/portcall/mailgate/internal/pipeline"
	"github.com/portcall/mailgate/internal/postprocess"
	"github.com/portcall/mailgate/internal/repository"
	"github.com/portcall/mailgate/internal/rules"
	"github.com/portcall/mailgate/internal/scheduler"
)

var version = "1.0.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "version":
		fmt.Printf("mailgate %s\n", version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: mailgate <command>

Commands:
  serve     Start the scheduler and HTTP server
  version   Print version information

Environment: see internal/config for the full list (MAIL_USERNAME,
MAIL_PASSWORD, IMAP_HOST, IMAP_PORT, SMTP_HOST, SMTP_PORT, DB_PATH,
MAIL_FOLDER, RULES_SEED_PATH, ATTACHMENT_PATH, ATTACHMENT_S3_BUCKET,
ATTACHMENT_S3_REGION, MAIL_CHECK_INTERVAL, LOG_LEVEL, LOG_FILE,
HTTP_HOST, HTTP_PORT, DEBUG).`)
}

func runServe() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("mailgate: configuration error: %v", err)
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Fatalf("mailgate: open log file: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}

	repo, err := repository.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("mailgate: repository: %v", err)
	}
	defer repo.Close()

	if cfg.RulesSeedPath != "" {
		seedFile, err := repository.LoadSeedFile(cfg.RulesSeedPath)
		if err != nil {
			logger.Fatalf("mailgate: rule seed: %v", err)
		}
		inserted, err := repo.SeedRulesIfEmpty(seedFile)
		if err != nil {
			logger.Fatalf("mailgate: rule seed: %v", err)
		}
		if inserted > 0 {
			logger.Printf("mailgate: seeded %d rules from %s", inserted, cfg.RulesSeedPath)
		}
	}

	var store *attachstore.Store
	if cfg.AttachmentS3Bucket != "" {
		store, err = attachstore.NewWithS3(cfg.AttachmentPath, attachstore.S3Config{
			Bucket: cfg.AttachmentS3Bucket,
			Region: cfg.AttachmentS3Region,
		})
	} else {
		store, err = attachstore.New(cfg.AttachmentPath)
	}
	if err != nil {
		logger.Fatalf("mailgate: attachment store: %v", err)
	}

	engine := rules.New(logger)
	postproc := postprocess.NewRegistry(postprocess.ShipservExtractor{})

	mailboxCfg := mailbox.DefaultConfig()
	mailboxCfg.Host = cfg.IMAPHost
	mailboxCfg.Port = cfg.IMAPPort
	mailboxCfg.Username = cfg.MailUsername
	mailboxCfg.Password = cfg.MailPassword

	pipe := pipeline.New(mailboxCfg, cfg.MailFolder, repo, store, engine, postproc, logger)

	sched := scheduler.New(pipe, cfg.MailCheckInterval, logger)
	if err := sched.Start(); err != nil {
		logger.Fatalf("mailgate: scheduler: %v", err)
	}

	fwd := forwarder.New(forwarder.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.MailUsername,
		Password: cfg.MailPassword,
	}, repo, store, logger)

	router := httpapi.NewRouter(httpapi.Config{
		Repo:      repo,
		Scheduler: sched,
		Forwarder: fwd,
		Logger:    logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Printf("mailgate: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("mailgate: http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Printf("mailgate: shutting down")
	sched.Stop()
	server.Close()
}
