package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pcarver/beacon/internal/auth"
	"github.com/pcarver/beacon/internal/config"
	"github.com/pcarver/beacon/internal/database"
	"github.com/pcarver/beacon/internal/server"
	"github.com/pcarver/beacon/internal/stats"
	"github.com/pcarver/beacon/internal/testutil"
)

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = "localhost:0"
	}
	if cfg.AdminToken == "" {
		cfg.AdminToken = "test-token"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = t.TempDir()
	}
	if cfg.MaxMessagesPerMinute == 0 {
		cfg.MaxMessagesPerMinute = 100
	}
	if cfg.MaxAuthAttemptsPerMinute == 0 {
		cfg.MaxAuthAttemptsPerMinute = 10
	}
	if cfg.NonceExpiry == 0 {
		cfg.NonceExpiry = 5 * time.Minute
	}

	nonces := auth.NewNonceStore(cfg.NonceExpiry)
	verifier := auth.NewVerifier(cfg.ServerPassword, cfg.AdminKeys, nonces, cfg.NonceExpiry)

	cs, err := server.NewChatServer(testutil.TestLogger(t), database.NewMemoryRepository(), verifier, &stats.MockStatsUpdater{}, cfg)
	require.NoError(t, err)

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))
	})

	return NewApp(http.NewServeMux(), testutil.TestLogger(t), cs, cfg)
}
