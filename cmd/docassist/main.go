// Package main is the DocAssist gateway CLI entry point.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jprocode/DocAssist-AI/internal/auth"
	"github.com/jprocode/DocAssist-AI/internal/chat"
	"github.com/jprocode/DocAssist-AI/internal/config"
	"github.com/jprocode/DocAssist-AI/internal/server"
	"github.com/jprocode/DocAssist-AI/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docassist/config.yaml"

// askRateLimit is the per-identity allowance on the ask relay, matching the
// upstream service's own limit.
const askRateLimit = 20

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "hash":
		runHash()
	case "version", "--version", "-v":
		fmt.Printf("docassist version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.ValidateCredential(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	var store auth.AttemptStore
	if cfg.Auth.AttemptsPath != "" {
		store, err = auth.NewSQLiteStore(cfg.Auth.AttemptsPath, logger)
		if err != nil {
			logger.Fatal("Failed to open attempt store", zap.Error(err))
		}
	} else {
		store = auth.NewMemoryStore()
	}
	defer store.Close()

	guard := auth.NewRateGuard(store, logger)
	verifier := auth.SelectVerifier(cfg.Auth.PasswordHash, cfg.Auth.PasswordPlain, logger)
	session := auth.NewLoginSession(guard, verifier, cfg.Auth.SessionTTL(), logger)
	asker := chat.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout(), logger)
	limiter := server.NewRequestLimiter(askRateLimit)

	// Credential changes take effect without a restart.
	watch := config.NewWatcher(resolvedConfigPath, func(next *config.Config) {
		session.SetVerifier(auth.SelectVerifier(next.Auth.PasswordHash, next.Auth.PasswordPlain, logger))
	}, logger)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watch.Start(watchCtx); err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	}

	srv := server.NewServer(session, asker, limiter, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "document-QA base URL (overrides config)")
	web := fs.Bool("web", false, "augment the answer with web search")
	_ = fs.Parse(os.Args[2:])

	args := fs.Args()
	if len(args) < 2 {
		fmt.Println("Usage: docassist ask [flags] <doc-id> <question...>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	docID := args[0]
	question := strings.TrimSpace(strings.Join(args[1:], " "))

	baseURL := *serverURL
	timeout := 300 * time.Second
	if baseURL == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		baseURL = cfg.Upstream.BaseURL
		timeout = cfg.Upstream.Timeout()
	}

	logger := zap.NewNop()
	client := chat.NewClient(baseURL, timeout, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Print chunks as they arrive; the final turn carries sources and pages.
	var printed int
	turn, err := client.AskStream(ctx, docID, question, *web, func(t chat.Turn) {
		if len(t.Answer) > printed {
			fmt.Print(t.Answer[printed:])
			printed = len(t.Answer)
		}
	})
	fmt.Println()
	if err != nil {
		fmt.Printf("Ask failed: %v\n", err)
		os.Exit(1)
	}
	if turn.Sources != nil {
		fmt.Printf("\nSources: document=%t web=%t\n", turn.Sources.Document, turn.Sources.Web)
	}
	if len(turn.PageNumbers) > 0 {
		fmt.Printf("Pages: %v\n", turn.PageNumbers)
	}
}

// runHash prints the bcrypt digest for a password, for use as
// auth.password_hash in the config file.
func runHash() {
	var password string
	if len(os.Args) > 2 {
		password = os.Args[2]
	} else {
		fmt.Print("Password: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			password = strings.TrimSpace(scanner.Text())
		}
	}
	if password == "" {
		fmt.Println("Password must not be empty")
		os.Exit(1)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(digest))
}

func printUsage() {
	fmt.Println(`DocAssist gateway

Usage:
  docassist server [-config path] [-debug]   Run the gateway server
  docassist ask [flags] <doc-id> <question>  Ask a question and stream the answer
  docassist hash [password]                  Print a bcrypt hash for the config file
  docassist version                          Print version`)
}
