package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kx3-io/carbot/internal/agent"
	apiPkg "github.com/kx3-io/carbot/internal/api"
	"github.com/kx3-io/carbot/internal/assistant"
	"github.com/kx3-io/carbot/internal/config"
	"github.com/kx3-io/carbot/internal/connector"
	slackconn "github.com/kx3-io/carbot/internal/connector/slack"
	"github.com/kx3-io/carbot/internal/connector/telegram"
	"github.com/kx3-io/carbot/internal/directory"
	"github.com/kx3-io/carbot/internal/logbuf"
	"github.com/kx3-io/carbot/internal/mailer"
	"github.com/kx3-io/carbot/internal/session"
	"github.com/kx3-io/carbot/internal/sheets"
	"github.com/kx3-io/carbot/internal/store"
	"github.com/kx3-io/carbot/internal/tool"
	"github.com/kx3-io/carbot/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("carbotd starting")

	// 1. Ticket store
	os.MkdirAll(cfg.DataDir, 0o755)
	dbPath := cfg.DataDir + "/carbot.db"
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open ticket store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Spreadsheet mirror and department directory
	var mirror sheets.Mirror = nopMirror{}
	var sheetsClient *sheets.Client
	if cfg.Sheets.SpreadsheetID != "" {
		sheetsClient = sheets.NewClient(cfg.Sheets.SpreadsheetID, cfg.Sheets.AccessToken,
			logger.With("component", "sheets"))
		mirror = sheetsClient
		logger.Info("spreadsheet mirror enabled", "spreadsheet", cfg.Sheets.SpreadsheetID)
	} else {
		logger.Warn("spreadsheet mirror disabled")
	}

	var dirSource directory.Source
	if sheetsClient != nil && cfg.Sheets.DirectoryRange != "" {
		dirSource = &directory.SheetSource{Reader: sheetsClient, Range: cfg.Sheets.DirectoryRange}
	}
	dir := directory.New(dirSource, logger.With("component", "directory"))
	if dirSource != nil {
		go safeGo(logger, "directory-refresh", func() {
			dir.StartRefresh(ctx, cfg.Sheets.RefreshSchedule)
		})
	}

	// 3. Department notifier
	var notifier mailer.Notifier = nopNotifier{}
	if cfg.SMTP.Host != "" {
		notifier = mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     strconv.Itoa(cfg.SMTP.Port),
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		logger.Info("smtp notifier enabled", "host", cfg.SMTP.Host)
	} else {
		logger.Warn("smtp notifier disabled")
	}

	// 4. Tools
	tools := tool.NewRegistry(logger.With("component", "tools"))
	tools.Register(&tool.RegisterUserTool{Store: st})
	tools.Register(&tool.GetDepartmentsTool{Departments: dir})
	tools.Register(&tool.OpenTicketTool{
		Store:       st,
		Mirror:      mirror,
		Notifier:    notifier,
		Departments: dir,
		Logger:      logger.With("tool", "openTicket"),
	})
	tools.Register(&tool.ListTicketsTool{Store: st})
	tools.Register(&tool.GetTicketDetailTool{Store: st})
	tools.Register(&tool.CloseTicketTool{
		Store:  st,
		Mirror: mirror,
		Logger: logger.With("tool", "closeTicket"),
	})
	tools.Register(&tool.ReplyTicketTool{
		Store:       st,
		Notifier:    notifier,
		Departments: dir,
		Logger:      logger.With("tool", "replyTicket"),
	})
	tools.Register(&tool.TranscribeAudioTool{})
	logger.Info("tools registered", "tools", tools.Names())

	// 5. Assistant client and run driver
	var clientOpts []assistant.Option
	if cfg.Assistant.BaseURL != "" {
		clientOpts = append(clientOpts, assistant.WithBaseURL(cfg.Assistant.BaseURL))
	}
	client := assistant.NewClient(cfg.Assistant.APIKey, cfg.Assistant.AssistantID, clientOpts...)

	sessions := session.NewStore()
	driver := agent.NewDriver(client, tools, sessions, logger.With("component", "driver"))

	handler := func(ctx context.Context, msg connector.InboundMessage) (string, error) {
		return driver.Handle(ctx, msg)
	}

	// 6. Connectors
	if cfg.Connectors.Telegram != nil {
		tgConn, err := telegram.New(telegram.Config{
			Token:     cfg.Connectors.Telegram.Token,
			AllowFrom: cfg.Connectors.Telegram.AllowFrom,
		}, handler, logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		tgConn.OnReset = sessions.Evict

		go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
	}

	if cfg.Connectors.Slack != nil {
		slConn, err := slackconn.New(slackconn.Config{
			BotToken: cfg.Connectors.Slack.BotToken,
			AppToken: cfg.Connectors.Slack.AppToken,
			Channels: cfg.Connectors.Slack.Channels,
		}, handler, logger.With("connector", "slack"))
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}

		go safeGo(logger, "slack", func() { slConn.Start(ctx) })
	}

	// 7. Admin API server
	apiSrv := apiPkg.NewServer(st, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 8. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("carbotd stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// nopMirror stands in when no spreadsheet is configured.
type nopMirror struct{}

func (nopMirror) AppendTicketRow(context.Context, sheets.TicketRow) error { return nil }
func (nopMirror) UpdateStatusCell(context.Context, string, protocol.TicketStatus) error {
	return nil
}

// nopNotifier stands in when no SMTP host is configured.
type nopNotifier struct{}

func (nopNotifier) NotifyDepartment(context.Context, protocol.Department, *protocol.Ticket, *protocol.User) error {
	return nil
}
func (nopNotifier) NotifyReply(context.Context, protocol.Department, *protocol.Ticket, protocol.Reply) error {
	return nil
}
