package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/cache"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/emailvalidator"
	"github.com/sadewadee/mystic-shorts/internal/lock"
	"github.com/sadewadee/mystic-shorts/internal/queue"
	"github.com/sadewadee/mystic-shorts/internal/secret"
)

// AccountConfig holds the pluggable account strategies
type AccountConfig struct {
	Verifier Verifier
	Warmer   Warmer
	Identity IdentityProvider
	Emails   emailvalidator.Validator
}

// AccountService owns the account state machine
type AccountService struct {
	accounts   domain.AccountRepository
	proxies    domain.ProxyRepository
	dispatcher queue.Dispatcher
	locker     lock.Locker
	sealer     secret.Sealer
	notifier   domain.Notifier
	cache      cache.Cache
	audit      audit

	verifier Verifier
	warmer   Warmer
	identity IdentityProvider
	emails   emailvalidator.Validator

	now func() time.Time
}

// NewAccountService creates an AccountService. Nil strategies fall back to
// the trusted stubs.
func NewAccountService(d Deps, cfg AccountConfig) *AccountService {
	d = d.withDefaults()

	if cfg.Verifier == nil {
		cfg.Verifier = TrustedVerifier{}
	}
	if cfg.Warmer == nil {
		cfg.Warmer = DelayWarmer{Delay: 5 * time.Second}
	}
	if cfg.Identity == nil {
		cfg.Identity = LocalIdentity{}
	}
	if cfg.Emails == nil {
		cfg.Emails = emailvalidator.Syntax{}
	}

	return &AccountService{
		accounts:   d.Stores.Accounts,
		proxies:    d.Stores.Proxies,
		dispatcher: d.Dispatcher,
		locker:     d.Locker,
		sealer:     d.Sealer,
		notifier:   d.Notifier,
		cache:      d.Cache,
		audit:      audit{logs: d.Stores.AccountLogs, now: time.Now},
		verifier:   cfg.Verifier,
		warmer:     cfg.Warmer,
		identity:   cfg.Identity,
		emails:     cfg.Emails,
		now:        time.Now,
	}
}

// Create persists a new account in PENDING_VERIFICATION
func (s *AccountService) Create(ctx context.Context, req *domain.CreateAccountRequest) (*domain.Account, error) {
	email, err := s.checkEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, domain.Validationf("password is required")
	}

	var recovery *string
	if req.RecoveryEmail != nil && strings.TrimSpace(*req.RecoveryEmail) != "" {
		r, err := s.checkRecovery(ctx, *req.RecoveryEmail)
		if err != nil {
			return nil, err
		}
		recovery = &r
	}

	if err := s.checkProxy(ctx, req.ProxyID); err != nil {
		return nil, err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		return nil, domain.NewError(domain.KindDuplicateAccount, fmt.Sprintf("account %s already exists", email), nil)
	}

	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to seal password: %w", err)
	}

	now := s.now().UTC()
	account := &domain.Account{
		ID:            uuid.New(),
		Email:         email,
		Password:      sealed,
		RecoveryEmail: recovery,
		Status:        domain.AccountStatusPendingVerification,
		Country:       normalizeCountry(req.Country),
		ProxyID:       req.ProxyID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if req.UploadToken != nil && *req.UploadToken != "" {
		token, err := s.sealer.Seal(*req.UploadToken)
		if err != nil {
			return nil, fmt.Errorf("failed to seal upload token: %w", err)
		}
		account.UploadToken = &token
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	s.audit.record(ctx, account.ID, domain.ActionAccountCreated, domain.LogLevelInfo,
		fmt.Sprintf("Account %s created", account.Email), nil)
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountCreated, account.Email, "Account created").
		WithAccount(account.ID))
	s.invalidateStats(ctx)

	log.WithField("account_id", account.ID).Info("account created")
	return account, nil
}

// BulkImport creates every request independently. One failing item never
// affects the others.
func (s *AccountService) BulkImport(ctx context.Context, reqs []*domain.CreateAccountRequest) []domain.BulkResult {
	results := make([]domain.BulkResult, len(reqs))

	for i, req := range reqs {
		res := domain.BulkResult{Index: i}
		if req == nil {
			res.Status = domain.BulkResultError
			res.Error = "empty request"
			res.Kind = domain.KindValidation
			results[i] = res
			continue
		}

		res.Email = req.Email
		account, err := s.Create(ctx, req)
		if err != nil {
			res.Status = domain.BulkResultError
			res.Error = err.Error()
			res.Kind = domain.KindOf(err)
		} else {
			res.Status = domain.BulkResultSuccess
			res.ID = &account.ID
			res.Email = account.Email
		}
		results[i] = res
	}

	return results
}

// Get returns one account
func (s *AccountService) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, domain.NotFoundf("account %s not found", id)
	}
	return account, nil
}

// List returns accounts matching params and the total count
func (s *AccountService) List(ctx context.Context, params domain.AccountListParams) ([]*domain.Account, int, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, 0, domain.Validationf("unknown status %q", *params.Status)
	}
	params.Country = normalizeCountry(params.Country)
	return s.accounts.List(ctx, params)
}

// Logs returns the audit trail of an account newest first. Entries of
// deleted accounts are still returned.
func (s *AccountService) Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]*domain.AccountLog, int, error) {
	return s.audit.logs.ListByAccount(ctx, id, limit, offset)
}

// Stats returns cached account statistics
func (s *AccountService) Stats(ctx context.Context) (*domain.AccountStats, error) {
	return cache.Remember(ctx, s.cache, cache.Key(cache.KeyPrefixAccountStats, "all"), cache.TTLStats,
		func(ctx context.Context) (*domain.AccountStats, error) {
			return s.accounts.GetStats(ctx)
		})
}

// Verify records the phone number and moves the account to ACTIVE
func (s *AccountService) Verify(ctx context.Context, id uuid.UUID, phone string) (*domain.Account, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, domain.Validationf("phone number is required")
	}

	var account *domain.Account
	err := s.mutate(ctx, id, func(a *domain.Account) error {
		if !a.Status.CanVerify() {
			return domain.InvalidStatef("account in status %s cannot be verified", a.Status)
		}
		if err := s.verifier.Verify(ctx, a, phone); err != nil {
			if domain.KindOf(err) == domain.KindInternal {
				return domain.NewError(domain.KindAuth, "phone verification failed", err)
			}
			return err
		}

		a.PhoneNumber = &phone
		a.IsVerified = true
		a.Status = domain.AccountStatusActive
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.record(ctx, id, domain.ActionAccountVerified, domain.LogLevelInfo,
		"Account verified", domain.Metadata{"phone_number": phone})
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountVerified, account.Email, "Account verified").
		WithAccount(id))

	return account, nil
}

// StartWarming resets warm-up progress, moves the account to WARMING_UP and
// schedules the warm-up run in the background
func (s *AccountService) StartWarming(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	attempt := uuid.NewString()

	var account *domain.Account
	err := s.mutate(ctx, id, func(a *domain.Account) error {
		if !a.Status.CanStartWarming() {
			return domain.InvalidStatef("account in status %s cannot start warming", a.Status)
		}
		a.Status = domain.AccountStatusWarmingUp
		a.WarmingProgress = domain.WarmingProgressMin
		a.IsWarmedUp = false
		a.AttemptID = attempt
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.record(ctx, id, domain.ActionWarmingStarted, domain.LogLevelInfo, "Warm-up started", nil)

	payload := queue.NewPayload(id.String()).WithAttempt(attempt)
	if err := s.dispatcher.Dispatch(ctx, queue.TypeAccountWarmup, payload); err != nil {
		s.failWarming(ctx, id, attempt, fmt.Errorf("failed to schedule warm-up: %w", err))
		return nil, domain.NewError(domain.KindExternalService, "failed to schedule warm-up", err)
	}

	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountWarmingStarted, account.Email, "Warm-up started").
		WithAccount(id))
	return account, nil
}

// CancelWarming stops an in-flight warm-up run
func (s *AccountService) CancelWarming(ctx context.Context, id uuid.UUID) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if account.Status != domain.AccountStatusWarmingUp {
		return domain.InvalidStatef("account is not warming up")
	}

	s.dispatcher.Cancel(ctx, queue.TypeAccountWarmup, id.String())
	s.failWarming(ctx, id, account.AttemptID, errors.New("warm-up cancelled"))
	return nil
}

// runWarmup drives progress from 0 to 100 in fixed steps
func (s *AccountService) runWarmup(ctx context.Context, p *queue.Payload) error {
	id, err := parseEntityID(p)
	if err != nil {
		return err
	}

	entry := log.WithFields(log.Fields{"account_id": id, "attempt": p.Attempt})
	current := func(a *domain.Account) bool {
		return a.Status == domain.AccountStatusWarmingUp && a.AttemptID == p.Attempt
	}

	for {
		account, err := s.accounts.GetByID(ctx, id)
		if err != nil {
			s.failWarming(ctx, id, p.Attempt, err)
			return err
		}
		if account == nil || !current(account) {
			entry.Info("warm-up abandoned, attempt is no longer current")
			return nil
		}
		if account.WarmingProgress >= domain.WarmingProgressMax {
			break
		}

		next := min(account.WarmingProgress+domain.WarmingProgressStep, domain.WarmingProgressMax)
		if err := s.warmer.Step(ctx, account, next); err != nil {
			s.failWarming(ctx, id, p.Attempt, err)
			return err
		}

		stop := false
		err = s.mutate(ctx, id, func(a *domain.Account) error {
			if !current(a) {
				stop = true
				return nil
			}
			a.WarmingProgress = max(a.WarmingProgress, next)
			return nil
		})
		if err != nil {
			s.failWarming(ctx, id, p.Attempt, err)
			return err
		}
		if stop {
			return nil
		}
		entry.WithField("progress", next).Debug("warm-up step done")
	}

	var account *domain.Account
	err = s.mutate(ctx, id, func(a *domain.Account) error {
		if !current(a) {
			return domain.InvalidStatef("account left warming state")
		}
		a.WarmingProgress = domain.WarmingProgressMax
		a.IsWarmedUp = true
		a.Status = domain.AccountStatusActive
		account = a
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		s.failWarming(ctx, id, p.Attempt, err)
		return err
	}

	s.audit.record(ctx, id, domain.ActionWarmingCompleted, domain.LogLevelInfo, "Warm-up completed", nil)
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountWarmingCompleted, account.Email, "Warm-up completed").
		WithAccount(id))
	entry.Info("warm-up completed")
	return nil
}

// failWarming returns a warming account to the state it can resume from.
// Nothing happens once attempt is no longer the current run.
func (s *AccountService) failWarming(ctx context.Context, id uuid.UUID, attempt string, cause error) {
	ctx = context.WithoutCancel(ctx)

	var account *domain.Account
	err := s.mutate(ctx, id, func(a *domain.Account) error {
		if a.Status != domain.AccountStatusWarmingUp {
			return domain.InvalidStatef("account is not warming up")
		}
		if a.AttemptID != attempt {
			return domain.InvalidStatef("warm-up attempt superseded")
		}
		if a.IsVerified {
			a.Status = domain.AccountStatusActive
		} else {
			a.Status = domain.AccountStatusPendingVerification
		}
		account = a
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidState) && !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).WithField("account_id", id).Error("failed to reset warming account")
		}
		return
	}

	s.audit.record(ctx, id, domain.ActionWarmingFailed, domain.LogLevelWarning,
		fmt.Sprintf("Warm-up stopped at %d%%: %v", account.WarmingProgress, cause),
		domain.Metadata{"progress": account.WarmingProgress})
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountWarmingFailed, account.Email, cause.Error()).
		WithAccount(id).
		WithField("progress", account.WarmingProgress))
	log.WithError(cause).WithField("account_id", id).Warn("warm-up failed")
}

// ChangePassword rotates the account password at the identity provider and
// stores the new secret
func (s *AccountService) ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	if newPassword == "" {
		return domain.Validationf("new password is required")
	}

	var email string
	err := s.mutate(ctx, id, func(a *domain.Account) error {
		if a.Status.IsTerminal() {
			return domain.InvalidStatef("account in status %s cannot change password", a.Status)
		}

		current, err := s.sealer.Open(a.Password)
		if err != nil {
			return fmt.Errorf("failed to open stored password: %w", err)
		}
		if err := s.identity.ChangePassword(ctx, a, current, newPassword); err != nil {
			return domain.NewError(domain.KindAuth, "identity provider rejected password change", err)
		}

		sealed, err := s.sealer.Seal(newPassword)
		if err != nil {
			return fmt.Errorf("failed to seal password: %w", err)
		}
		a.Password = sealed
		email = a.Email
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.record(ctx, id, domain.ActionPasswordChanged, domain.LogLevelInfo, "Password changed", nil)
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountPasswordChanged, email, "Password changed").
		WithAccount(id))
	return nil
}

// Update applies the supplied fields only
func (s *AccountService) Update(ctx context.Context, id uuid.UUID, req *domain.UpdateAccountRequest) (*domain.Account, error) {
	if req == nil || req.IsEmpty() {
		return nil, domain.Validationf("no fields to update")
	}
	if req.TotalViews != nil && *req.TotalViews < 0 {
		return nil, domain.Validationf("total views cannot be negative")
	}

	var recovery *string
	if req.RecoveryEmail != nil && *req.RecoveryEmail != "" {
		r, err := s.checkRecovery(ctx, *req.RecoveryEmail)
		if err != nil {
			return nil, err
		}
		recovery = &r
	}
	if req.ProxyID != nil && *req.ProxyID != 0 {
		if err := s.checkProxy(ctx, req.ProxyID); err != nil {
			return nil, err
		}
	}

	var (
		account *domain.Account
		changed []string
	)
	err := s.mutate(ctx, id, func(a *domain.Account) error {
		if req.RecoveryEmail != nil {
			a.RecoveryEmail = recovery
			changed = append(changed, "recovery_email")
		}
		if req.PhoneNumber != nil {
			a.PhoneNumber = emptyToNil(*req.PhoneNumber)
			changed = append(changed, "phone_number")
		}
		if req.Country != nil {
			a.Country = normalizeCountry(req.Country)
			changed = append(changed, "country")
		}
		if req.ProxyID != nil {
			if *req.ProxyID == 0 {
				a.ProxyID = nil
			} else {
				a.ProxyID = req.ProxyID
			}
			changed = append(changed, "proxy_id")
		}
		if req.UploadToken != nil {
			if *req.UploadToken == "" {
				a.UploadToken = nil
			} else {
				token, err := s.sealer.Seal(*req.UploadToken)
				if err != nil {
					return fmt.Errorf("failed to seal upload token: %w", err)
				}
				a.UploadToken = &token
			}
			changed = append(changed, "upload_token")
		}
		if req.TotalViews != nil {
			a.TotalViews = *req.TotalViews
			changed = append(changed, "total_views")
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.record(ctx, id, domain.ActionAccountUpdated, domain.LogLevelInfo,
		"Account updated", domain.Metadata{"fields": changed})
	return account, nil
}

// SetStatus applies an external status signal. Suspended and banned can be
// imposed from any state. Active only lifts a suspension or ban; see
// liftedStatus for where the account lands.
func (s *AccountService) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, reason string) (*domain.Account, error) {
	switch status {
	case domain.AccountStatusActive, domain.AccountStatusSuspended, domain.AccountStatusBanned:
	default:
		return nil, domain.Validationf("status %q cannot be set externally", status)
	}

	var (
		account *domain.Account
		from    domain.AccountStatus
	)
	err := s.mutate(ctx, id, func(a *domain.Account) error {
		from = a.Status
		account = a

		if status != domain.AccountStatusActive {
			a.Status = status
			return nil
		}

		switch {
		case a.Status.IsTerminal():
			a.Status = liftedStatus(a)
		case a.Status == domain.AccountStatusActive:
		default:
			return domain.InvalidStatef("account in status %s is activated through verification, not a status signal", a.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from == account.Status {
		return account, nil
	}
	if from == domain.AccountStatusWarmingUp {
		s.dispatcher.Cancel(ctx, queue.TypeAccountWarmup, id.String())
	}

	s.statusChanged(ctx, account, from, reason)
	return account, nil
}

// liftedStatus is where an account goes once a suspension or ban is lifted.
// Only verification or a finished warm-up ever made an account active.
func liftedStatus(a *domain.Account) domain.AccountStatus {
	if a.IsVerified || a.IsWarmedUp {
		return domain.AccountStatusActive
	}
	return domain.AccountStatusPendingVerification
}

// statusChanged records one STATUS_CHANGED entry
func (s *AccountService) statusChanged(ctx context.Context, a *domain.Account, from domain.AccountStatus, reason string) {
	level := domain.LogLevelInfo
	if a.Status.IsTerminal() {
		level = domain.LogLevelWarning
	}

	msg := fmt.Sprintf("Status changed from %s to %s", from, a.Status)
	if reason != "" {
		msg += ": " + reason
	}

	meta := domain.Metadata{"from": string(from), "to": string(a.Status)}
	if reason != "" {
		meta["reason"] = reason
	}

	s.audit.record(ctx, a.ID, domain.ActionStatusChanged, level, msg, meta)
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountStatusChanged, a.Email, msg).
		WithAccount(a.ID).
		WithField("from", string(from)).
		WithField("to", string(a.Status)))
	s.invalidateStats(ctx)
}

// Delete hard-deletes the account. Its log entries remain.
func (s *AccountService) Delete(ctx context.Context, id uuid.UUID) error {
	var email string
	err := withLock(ctx, s.locker, lock.AccountKey(id), func() error {
		account, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		email = account.Email

		if account.Status == domain.AccountStatusWarmingUp {
			s.dispatcher.Cancel(ctx, queue.TypeAccountWarmup, id.String())
		}

		deleted, err := s.accounts.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if !deleted {
			return domain.NotFoundf("account %s not found", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.record(ctx, id, domain.ActionAccountDeleted, domain.LogLevelInfo,
		fmt.Sprintf("Account %s deleted", email), nil)
	s.notifier.Notify(ctx, domain.NewEvent(domain.EventAccountDeleted, email, "Account deleted").
		WithAccount(id))
	s.invalidateStats(ctx)
	return nil
}

// mutate runs a locked read-modify-write cycle on one account. fn sees the
// current row; UpdatedAt is bumped on success.
func (s *AccountService) mutate(ctx context.Context, id uuid.UUID, fn func(a *domain.Account) error) error {
	return withLock(ctx, s.locker, lock.AccountKey(id), func() error {
		account, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(account); err != nil {
			return err
		}
		account.UpdatedAt = s.now().UTC()
		return s.accounts.Update(ctx, account)
	})
}

func (s *AccountService) checkEmail(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", domain.Validationf("email is required")
	}

	res, err := s.emails.Validate(ctx, email)
	if err != nil {
		// remote validators fail open
		log.WithError(err).WithField("email", email).Warn("email validation unavailable")
	}
	if res == nil {
		return strings.TrimSpace(email), nil
	}
	if !res.ShouldAccept() {
		return "", domain.Validationf("email %s rejected: %s", email, res.Reason)
	}
	return res.Email, nil
}

func (s *AccountService) checkRecovery(ctx context.Context, email string) (string, error) {
	res, _ := emailvalidator.Syntax{}.Validate(ctx, email)
	if res.Status == emailvalidator.StatusInvalid {
		return "", domain.Validationf("recovery email %s is invalid", email)
	}
	return res.Email, nil
}

func (s *AccountService) checkProxy(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	p, err := s.proxies.GetByID(ctx, *id)
	if err != nil {
		return fmt.Errorf("failed to look up proxy: %w", err)
	}
	if p == nil {
		return domain.Validationf("proxy %d not found", *id)
	}
	return nil
}

func (s *AccountService) invalidateStats(ctx context.Context) {
	_ = s.cache.Delete(ctx, cache.Key(cache.KeyPrefixAccountStats, "all"))
}

func normalizeCountry(c *string) *string {
	if c == nil {
		return nil
	}
	v := strings.ToUpper(strings.TrimSpace(*c))
	if v == "" {
		return nil
	}
	return &v
}

func emptyToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// ReapStale returns accounts whose warm-up has not advanced since before to
// the state they can resume from
func (s *AccountService) ReapStale(ctx context.Context, before time.Time) (int, error) {
	status := domain.AccountStatusWarmingUp
	params := domain.AccountListParams{Status: &status, Limit: 200}

	var stale []*domain.Account
	for {
		page, total, err := s.accounts.List(ctx, params)
		if err != nil {
			return 0, err
		}
		for _, a := range page {
			if a.UpdatedAt.Before(before) {
				stale = append(stale, a)
			}
		}
		params.Offset += len(page)
		if len(page) == 0 || params.Offset >= total {
			break
		}
	}

	for _, a := range stale {
		s.dispatcher.Cancel(ctx, queue.TypeAccountWarmup, a.ID.String())
		s.failWarming(ctx, a.ID, a.AttemptID, errors.New("warm-up stalled"))
	}
	return len(stale), nil
}
