package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/service"
)

func TestAccountService_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	req := &domain.CreateAccountRequest{Email: "alice@example.com", Password: "s3cret-pass"}
	a, err := e.svc.Accounts.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusPendingVerification, a.Status)
	assert.NotEqual(t, "s3cret-pass", a.Password)

	plain, err := e.sealer.Open(a.Password)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", plain)

	_, err = e.svc.Accounts.Create(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateAccount))

	_, total, err := e.svc.Accounts.List(ctx, domain.AccountListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.Equal(t, []domain.LogAction{domain.ActionAccountCreated}, e.logActions(t, a.ID))
	assert.Contains(t, e.notifier.types(), domain.EventAccountCreated)
}

func TestAccountService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	proxyID := int64(42)

	tests := []struct {
		name string
		req  *domain.CreateAccountRequest
	}{
		{"missing email", &domain.CreateAccountRequest{Password: "x"}},
		{"bad email", &domain.CreateAccountRequest{Email: "nope", Password: "x"}},
		{"missing password", &domain.CreateAccountRequest{Email: "bob@example.com"}},
		{"unknown proxy", &domain.CreateAccountRequest{Email: "bob@example.com", Password: "x", ProxyID: &proxyID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Accounts.Create(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestAccountService_BulkImport(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	results := e.svc.Accounts.BulkImport(ctx, []*domain.CreateAccountRequest{
		{Email: "one@example.com", Password: "pw-one"},
		{Email: "broken", Password: "pw-two"},
		{Email: "three@example.com", Password: "pw-three"},
	})
	require.Len(t, results, 3)

	assert.Equal(t, domain.BulkResultSuccess, results[0].Status)
	require.NotNil(t, results[0].ID)
	assert.Equal(t, domain.BulkResultError, results[1].Status)
	assert.Equal(t, domain.KindValidation, results[1].Kind)
	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].ID)
	assert.Equal(t, domain.BulkResultSuccess, results[2].Status)
	require.NotNil(t, results[2].ID)

	for _, i := range []int{0, 2} {
		a, err := e.svc.Accounts.Get(ctx, *results[i].ID)
		require.NoError(t, err)
		assert.Equal(t, results[i].Email, a.Email)
	}
}

func TestAccountService_Verify(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.Accounts.Verify(ctx, uuid.New(), "+15550100")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "v@example.com", Password: "pw"})
	require.NoError(t, err)

	_, err = e.svc.Accounts.Verify(ctx, a.ID, " ")
	assert.True(t, errors.Is(err, domain.ErrValidation))

	a, err = e.svc.Accounts.Verify(ctx, a.ID, "+15550100")
	require.NoError(t, err)
	assert.True(t, a.IsVerified)
	assert.Equal(t, domain.AccountStatusActive, a.Status)
	require.NotNil(t, a.PhoneNumber)
	assert.Equal(t, "+15550100", *a.PhoneNumber)

	assert.Equal(t, []domain.LogAction{domain.ActionAccountCreated, domain.ActionAccountVerified}, e.logActions(t, a.ID))
}

func TestAccountService_VerifyRejectedBySuspension(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "s@example.com", Password: "pw"})
	require.NoError(t, err)

	_, err = e.svc.Accounts.SetStatus(ctx, a.ID, domain.AccountStatusSuspended, "policy strike")
	require.NoError(t, err)

	_, err = e.svc.Accounts.Verify(ctx, a.ID, "+15550100")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	entries, _, err := e.svc.Accounts.Logs(ctx, a.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionStatusChanged, entries[0].Action)
	assert.Equal(t, domain.LogLevelWarning, entries[0].Level)
	assert.Contains(t, entries[0].Message, "policy strike")
}

// progressWarmer records each step's target progress
type progressWarmer struct {
	mu    sync.Mutex
	steps []int
}

func (w *progressWarmer) Step(_ context.Context, _ *domain.Account, progress int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = append(w.steps, progress)
	return nil
}

func TestAccountService_WarmingRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	warmer := &progressWarmer{}
	e := newEnv(t, func(c *service.Components) { c.Account.Warmer = warmer })

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "w@example.com", Password: "pw"})
	require.NoError(t, err)

	started, err := e.svc.Accounts.StartWarming(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusWarmingUp, started.Status)
	assert.Equal(t, 0, started.WarmingProgress)

	e.dispatcher.Wait()

	got, err := e.svc.Accounts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, got.Status)
	assert.True(t, got.IsWarmedUp)
	assert.Equal(t, 100, got.WarmingProgress)

	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, warmer.steps)
	assert.Equal(t, []domain.LogAction{
		domain.ActionAccountCreated,
		domain.ActionWarmingStarted,
		domain.ActionWarmingCompleted,
	}, e.logActions(t, a.ID))
	assert.Contains(t, e.notifier.types(), domain.EventAccountWarmingCompleted)
}

// blockingWarmer holds the first step until cancelled
type blockingWarmer struct {
	entered chan struct{}
	once    sync.Once
}

func (w *blockingWarmer) Step(ctx context.Context, _ *domain.Account, _ int) error {
	w.once.Do(func() { close(w.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func TestAccountService_CancelWarming(t *testing.T) {
	ctx := context.Background()
	warmer := &blockingWarmer{entered: make(chan struct{})}
	e := newEnv(t, func(c *service.Components) { c.Account.Warmer = warmer })

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "c@example.com", Password: "pw"})
	require.NoError(t, err)

	require.ErrorIs(t, e.svc.Accounts.CancelWarming(ctx, a.ID), domain.ErrInvalidState)

	_, err = e.svc.Accounts.StartWarming(ctx, a.ID)
	require.NoError(t, err)
	<-warmer.entered

	require.NoError(t, e.svc.Accounts.CancelWarming(ctx, a.ID))
	e.dispatcher.Wait()

	got, err := e.svc.Accounts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusPendingVerification, got.Status)
	assert.False(t, got.IsWarmedUp)

	entries, _, err := e.svc.Accounts.Logs(ctx, a.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionWarmingFailed, entries[0].Action)
	assert.Equal(t, domain.LogLevelWarning, entries[0].Level)
}

// lingeringWarmer keeps its first step running after cancellation until
// released. Later steps pass at once.
type lingeringWarmer struct {
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func (w *lingeringWarmer) Step(ctx context.Context, _ *domain.Account, _ int) error {
	if atomic.AddInt32(&w.calls, 1) > 1 {
		return nil
	}
	close(w.entered)
	<-ctx.Done()
	<-w.release
	return ctx.Err()
}

func TestAccountService_RestartWarmingRightAfterCancel(t *testing.T) {
	ctx := context.Background()
	warmer := &lingeringWarmer{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnv(t, func(c *service.Components) { c.Account.Warmer = warmer })

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "r@example.com", Password: "pw"})
	require.NoError(t, err)

	_, err = e.svc.Accounts.StartWarming(ctx, a.ID)
	require.NoError(t, err)
	<-warmer.entered

	require.NoError(t, e.svc.Accounts.CancelWarming(ctx, a.ID))

	restarted, err := e.svc.Accounts.StartWarming(ctx, a.ID)
	require.NoError(t, err, "a cancelled run must not block a new one")
	assert.Equal(t, domain.AccountStatusWarmingUp, restarted.Status)

	close(warmer.release)
	e.dispatcher.Wait()

	got, err := e.svc.Accounts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusActive, got.Status)
	assert.True(t, got.IsWarmedUp)
	assert.Equal(t, domain.WarmingProgressMax, got.WarmingProgress)

	actions := e.logActions(t, a.ID)
	assert.Equal(t, domain.ActionWarmingCompleted, actions[len(actions)-1])
	failures := 0
	for _, act := range actions {
		if act == domain.ActionWarmingFailed {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "only the cancel is recorded as a failure")
}

func TestAccountService_SetStatus(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		verified bool
		steps    []domain.AccountStatus
		set      domain.AccountStatus
		want     domain.AccountStatus
		wantErr  error
	}{
		{name: "unverified cannot be activated", set: domain.AccountStatusActive, want: domain.AccountStatusPendingVerification, wantErr: domain.ErrInvalidState},
		{name: "pending is not settable", set: domain.AccountStatusPendingVerification, want: domain.AccountStatusPendingVerification, wantErr: domain.ErrValidation},
		{name: "warming is not settable", verified: true, set: domain.AccountStatusWarmingUp, want: domain.AccountStatusActive, wantErr: domain.ErrValidation},
		{name: "suspend pending", set: domain.AccountStatusSuspended, want: domain.AccountStatusSuspended},
		{name: "lift unverified suspension", steps: []domain.AccountStatus{domain.AccountStatusSuspended}, set: domain.AccountStatusActive, want: domain.AccountStatusPendingVerification},
		{name: "lift verified ban", verified: true, steps: []domain.AccountStatus{domain.AccountStatusBanned}, set: domain.AccountStatusActive, want: domain.AccountStatusActive},
		{name: "active stays active", verified: true, set: domain.AccountStatusActive, want: domain.AccountStatusActive},
		{name: "ban suspended", steps: []domain.AccountStatus{domain.AccountStatusSuspended}, set: domain.AccountStatusBanned, want: domain.AccountStatusBanned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "st@example.com", Password: "pw"})
			require.NoError(t, err)
			if tt.verified {
				_, err = e.svc.Accounts.Verify(ctx, a.ID, "+15550100")
				require.NoError(t, err)
			}
			for _, st := range tt.steps {
				_, err = e.svc.Accounts.SetStatus(ctx, a.ID, st, "")
				require.NoError(t, err)
			}

			_, err = e.svc.Accounts.SetStatus(ctx, a.ID, tt.set, "signal")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got, err := e.svc.Accounts.Get(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.verified, got.IsVerified)
		})
	}
}

func TestAccountService_SetStatusRejectsActivatingWarmingAccount(t *testing.T) {
	ctx := context.Background()
	warmer := &blockingWarmer{entered: make(chan struct{})}
	e := newEnv(t, func(c *service.Components) { c.Account.Warmer = warmer })

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "w@example.com", Password: "pw"})
	require.NoError(t, err)
	_, err = e.svc.Accounts.StartWarming(ctx, a.ID)
	require.NoError(t, err)
	<-warmer.entered

	_, err = e.svc.Accounts.SetStatus(ctx, a.ID, domain.AccountStatusActive, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := e.svc.Accounts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusWarmingUp, got.Status)
	assert.False(t, got.IsWarmedUp)

	require.NoError(t, e.svc.Accounts.CancelWarming(ctx, a.ID))
	e.dispatcher.Wait()
}

func TestAccountService_LiftedUnverifiedAccountCannotUpload(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	token := "tok"
	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "up@example.com", Password: "pw", UploadToken: &token})
	require.NoError(t, err)

	_, err = e.svc.Accounts.SetStatus(ctx, a.ID, domain.AccountStatusSuspended, "")
	require.NoError(t, err)
	lifted, err := e.svc.Accounts.SetStatus(ctx, a.ID, domain.AccountStatusActive, "appeal granted")
	require.NoError(t, err)
	require.Equal(t, domain.AccountStatusPendingVerification, lifted.Status)

	v := e.pendingVideo(t, a.ID)
	_, err = e.svc.Videos.Upload(ctx, v.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

type rejectingIdentity struct{}

func (rejectingIdentity) ChangePassword(context.Context, *domain.Account, string, string) error {
	return errors.New("upstream rejected credentials")
}

func TestAccountService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the new sealed password", func(t *testing.T) {
		e := newEnv(t)
		a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "p@example.com", Password: "old-pw"})
		require.NoError(t, err)

		require.NoError(t, e.svc.Accounts.ChangePassword(ctx, a.ID, "new-pw"))

		got, err := e.svc.Accounts.Get(ctx, a.ID)
		require.NoError(t, err)
		plain, err := e.sealer.Open(got.Password)
		require.NoError(t, err)
		assert.Equal(t, "new-pw", plain)
		assert.Contains(t, e.logActions(t, a.ID), domain.ActionPasswordChanged)
	})

	t.Run("identity failure is an auth error", func(t *testing.T) {
		e := newEnv(t, func(c *service.Components) { c.Account.Identity = rejectingIdentity{} })
		a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "p@example.com", Password: "old-pw"})
		require.NoError(t, err)

		err = e.svc.Accounts.ChangePassword(ctx, a.ID, "new-pw")
		require.Error(t, err)
		assert.Equal(t, domain.KindAuth, domain.KindOf(err))

		got, err := e.svc.Accounts.Get(ctx, a.ID)
		require.NoError(t, err)
		plain, err := e.sealer.Open(got.Password)
		require.NoError(t, err)
		assert.Equal(t, "old-pw", plain)
		assert.NotContains(t, e.logActions(t, a.ID), domain.ActionPasswordChanged)
	})

	t.Run("missing account", func(t *testing.T) {
		e := newEnv(t)
		err := e.svc.Accounts.ChangePassword(ctx, uuid.New(), "new-pw")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestAccountService_UpdatePartial(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	recovery := "backup@example.com"
	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{
		Email:         "u@example.com",
		Password:      "pw",
		RecoveryEmail: &recovery,
	})
	require.NoError(t, err)

	country := "de"
	got, err := e.svc.Accounts.Update(ctx, a.ID, &domain.UpdateAccountRequest{Country: &country})
	require.NoError(t, err)
	require.NotNil(t, got.Country)
	assert.Equal(t, "DE", *got.Country)
	require.NotNil(t, got.RecoveryEmail)
	assert.Equal(t, recovery, *got.RecoveryEmail)
	assert.True(t, !got.UpdatedAt.Before(a.UpdatedAt))

	_, err = e.svc.Accounts.Update(ctx, a.ID, &domain.UpdateAccountRequest{})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = e.svc.Accounts.Update(ctx, uuid.New(), &domain.UpdateAccountRequest{Country: &country})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.Equal(t, []domain.LogAction{domain.ActionAccountCreated, domain.ActionAccountUpdated}, e.logActions(t, a.ID))
}

func TestAccountService_DeleteKeepsLogs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "d@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, e.svc.Accounts.Delete(ctx, a.ID))

	_, err = e.svc.Accounts.Get(ctx, a.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(e.svc.Accounts.Delete(ctx, a.ID), domain.ErrNotFound))

	assert.Equal(t, []domain.LogAction{domain.ActionAccountCreated, domain.ActionAccountDeleted}, e.logActions(t, a.ID))
}

func TestAccountService_Stats(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.activeAccount(t, "one@example.com", "tok")
	_, err := e.svc.Accounts.Create(ctx, &domain.CreateAccountRequest{Email: "two@example.com", Password: "pw"})
	require.NoError(t, err)

	stats, err := e.svc.Accounts.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[domain.AccountStatusActive])
	assert.Equal(t, 1, stats.ByStatus[domain.AccountStatusPendingVerification])
}
