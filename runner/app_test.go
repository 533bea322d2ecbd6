package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	dir := t.TempDir()
	return &Config{
		RunMode:           RunModeStandalone,
		Concurrency:       2,
		DataFolder:        dir,
		UploadFolder:      filepath.Join(dir, "uploads"),
		SecretKey:         "test-secret",
		ProxyCheckURL:     "http://check.invalid/ip",
		ProxyCheckTimeout: time.Second,
		UploadChunkSize:   1 << 20,
	}
}

func TestNewApp_Standalone(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, err := NewApp(ctx, cfg, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NotNil(t, app.Local)
	assert.Same(t, app.Local, app.Dispatcher)
	assert.FileExists(t, filepath.Join(cfg.DataFolder, "mystic.db"))
	assert.DirExists(t, cfg.UploadFolder)

	a, err := app.Services.Accounts.Create(ctx, &domain.CreateAccountRequest{
		Email:    "farm01@example.com",
		Password: "hunter22",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusPendingVerification, a.Status)

	stored, err := app.Repos.Accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotEqual(t, "hunter22", stored.Password, "password is sealed at rest")

	_, _, err = app.Services.Captcha.Balance(ctx)
	assert.ErrorIs(t, err, domain.ErrExternalService, "no captcha backend configured")
}

func TestNewApp_RejectsUnknownCaptchaService(t *testing.T) {
	cfg := testConfig(t)
	cfg.CaptchaService = "deathbycaptcha"
	cfg.CaptchaKey = "k"

	_, err := NewApp(context.Background(), cfg, true)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewApp_DatabaseOpenFailureReturnsError(t *testing.T) {
	cfg := testConfig(t)

	// a regular file where the data folder should be
	blocker := filepath.Join(cfg.DataFolder, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.DataFolder = blocker

	var (
		app *App
		err error
	)
	require.NotPanics(t, func() {
		app, err = NewApp(context.Background(), cfg, true)
	})
	require.Error(t, err)
	assert.Nil(t, app)
}

func TestNewApp_RetryAfterLateFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.CaptchaService = "deathbycaptcha"
	cfg.CaptchaKey = "k"

	_, err := NewApp(context.Background(), cfg, true)
	require.ErrorIs(t, err, domain.ErrValidation)

	cfg.CaptchaService = ""
	cfg.CaptchaKey = ""

	app, err := NewApp(context.Background(), cfg, true)
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}

func TestMigrationStatus_AfterOpenDatabase(t *testing.T) {
	cfg := testConfig(t)

	db, isPostgres, err := OpenConnection(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	assert.False(t, isPostgres)

	states, err := MigrationStatus(db, isPostgres)
	require.NoError(t, err)
	require.NotEmpty(t, states)
	assert.False(t, states[0].Applied)

	require.NoError(t, Migrate(db, isPostgres))

	states, err = MigrationStatus(db, isPostgres)
	require.NoError(t, err)
	for _, st := range states {
		assert.True(t, st.Applied, st.Version)
	}
}
