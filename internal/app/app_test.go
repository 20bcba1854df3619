package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AdamTech2025/twitter-autobot/internal/auth"
	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/logging"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "autobot.db")
	cfg.Schedule.Enabled = false
	cfg.Generator.APIKey = "test-key"
	cfg.Generator.Endpoint = dead.URL
	cfg.Generator.Timeout = config.Duration{Duration: time.Second}
	cfg.Email.Provider = "log"
	cfg.Publisher.Platform = config.PlatformDryRun
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, logging.NewWithOutput(io.Discard, "error", "text"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Workers = 0
	_, err := New(context.Background(), cfg, logging.NewWithOutput(io.Discard, "error", "text"))
	require.Error(t, err)
}

func TestWiredRunAndHealth(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, testConfig(t))

	u, err := a.Ledger.UpsertUser(ctx, types.User{ScreenName: "alice", Email: "alice@example.com", Topics: []string{"#AI"}, Active: true})
	require.NoError(t, err)
	require.NoError(t, a.Credentials.Put(ctx, types.Credential{UserID: u.ID, Platform: config.PlatformDryRun, Token: "t", Secret: "s"}))

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pipeline/run?wait=1", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Accepted bool              `json:"accepted"`
		Summary  *types.RunSummary `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Accepted)
	require.Len(t, out.Summary.Outcomes, 1)
	require.Equal(t, types.OutcomeFailedGeneration, out.Summary.Outcomes[0].Kind, "generator endpoint is down")

	health, err := http.Get(srv.URL + "/pipeline/health")
	require.NoError(t, err)
	defer health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)

	type component struct {
		OK bool `json:"ok"`
	}
	var report struct {
		Ledger    component `json:"ledger"`
		Generator component `json:"generator"`
		Notifier  component `json:"notifier"`
		Publisher component `json:"publisher"`
		CheckedAt time.Time `json:"checked_at"`
	}
	require.NoError(t, json.NewDecoder(health.Body).Decode(&report))
	require.True(t, report.Ledger.OK)
	require.False(t, report.Generator.OK)
	require.True(t, report.Notifier.OK)
	require.True(t, report.Publisher.OK)
	require.False(t, report.CheckedAt.IsZero())
}

func TestSealedCredentials(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	key, err := auth.GenerateKey()
	require.NoError(t, err)
	cfg.Auth.SealKey = key
	a := newTestApp(t, cfg)

	u, err := a.Ledger.UpsertUser(ctx, types.User{ScreenName: "bob", Topics: []string{"#go"}, Active: true})
	require.NoError(t, err)
	require.NoError(t, a.Credentials.Put(ctx, types.Credential{UserID: u.ID, Platform: "x", Token: "tok", Secret: "sec"}))

	raw, err := a.Ledger.LoadCredential(ctx, u.ID)
	require.NoError(t, err)
	require.NotEqual(t, "tok", raw.Token)

	cred, err := a.Credentials.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "tok", cred.Token)
}

func TestReloadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("AUTOBOT_CONFIG", path)

	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	onDisk := *cfg
	onDisk.Schedule.Enabled = true
	onDisk.Schedule.Cron = "30 6 * * *"
	onDisk.Schedule.Timezone = "UTC"
	require.NoError(t, onDisk.Save())

	require.NoError(t, a.ReloadSchedule())
	defer a.stopScheduler(context.Background())
	require.Equal(t, "30 6 * * *", a.Config().Schedule.Cron)
	require.Equal(t, "UTC", a.Config().Schedule.Timezone)
	require.NotNil(t, a.sched)
	require.Len(t, a.sched.ListJobs(), 1)

	// A cron change in the same timezone keeps the running scheduler.
	running := a.sched
	onDisk.Schedule.Cron = "45 7 * * *"
	require.NoError(t, onDisk.Save())
	require.NoError(t, a.ReloadSchedule())
	require.Same(t, running, a.sched)
	require.Equal(t, "45 7 * * *", a.Config().Schedule.Cron)
	jobs := a.sched.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, 7, jobs[0].NextRun.Hour())
	require.Equal(t, 45, jobs[0].NextRun.Minute())

	onDisk.Schedule.Cron = "not a cron"
	require.NoError(t, onDisk.Save())
	require.Error(t, a.ReloadSchedule())
	require.Equal(t, "45 7 * * *", a.Config().Schedule.Cron)
}
