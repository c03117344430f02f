package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/pcarver/beacon/internal/api"
	"github.com/pcarver/beacon/internal/auth"
	"github.com/pcarver/beacon/internal/config"
	"github.com/pcarver/beacon/internal/database"
	"github.com/pcarver/beacon/internal/server"
	"github.com/pcarver/beacon/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	dsn             string
	serverPassword  string
	adminToken      string
	adminKeys       stringSliceFlag
	maxMessages     int
	maxAuthAttempts int
	nonceExpiry     int
	allowedOrigins  stringSliceFlag
	uploadDir       string
	devMode         bool
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&serverPassword, "password", "", "optional server password (plaintext or bcrypt hash)")
	flag.StringVar(&adminToken, "admin-token", "", "bearer token for the role endpoint")
	flag.Var(&adminKeys, "admin-keys", "comma-separated base64 ed25519 public keys granted admin")
	flag.IntVar(&maxMessages, "max-messages-per-minute", config.DefaultMaxMessagesPerMinute, "chat rate limit per identity")
	flag.IntVar(&maxAuthAttempts, "max-auth-attempts-per-minute", config.DefaultMaxAuthAttemptsPerMinute, "auth attempt limit per address")
	flag.IntVar(&nonceExpiry, "nonce-expiry-seconds", int(config.DefaultNonceExpiry.Seconds()), "presence proof replay window in seconds")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS and websocket upgrades")
	flag.StringVar(&uploadDir, "upload-dir", "uploads", "directory for uploaded images")
	flag.BoolVar(&devMode, "dev", false, "run with an in-memory datastore")
	flag.Parse()

	logger := log.New(os.Stderr, "[beacon] ", log.LstdFlags)

	cfg, err := config.New(config.Config{
		ServerAddr:               addr,
		DatabaseDSN:              dsn,
		ServerPassword:           serverPassword,
		AdminToken:               adminToken,
		AdminKeys:                adminKeys,
		MaxMessagesPerMinute:     maxMessages,
		MaxAuthAttemptsPerMinute: maxAuthAttempts,
		NonceExpiry:              time.Duration(nonceExpiry) * time.Second,
		AllowedOrigins:           allowedOrigins,
		UploadDir:                uploadDir,
	})
	if err != nil {
		logger.Fatal("config: ", err)
	}

	var repo database.Repository
	if devMode {
		repo = database.NewMemoryRepository()
	} else {
		repo, err = database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open: ", err)
		}
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("db close: ", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nonces := auth.NewNonceStore(cfg.NonceExpiry)
	go nonces.Run(ctx)

	verifier := auth.NewVerifier(cfg.ServerPassword, cfg.AdminKeys, nonces, cfg.NonceExpiry)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, repo, verifier, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	app := api.NewApp(mux, logger, chatServer, cfg)

	go chatServer.Run()
	chatServer.ScheduleExpiries()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancelShutdown := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancelShutdown()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
