package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/tlmt"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	err    error
	block  chan struct{}
	events []domain.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(ctx context.Context, e domain.Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEmitter_DeliversToAllSinks(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}

	em := NewEmitter(Config{}, failing, ok)

	for i := 0; i < 5; i++ {
		em.Notify(context.Background(), domain.NewEvent(domain.EventAccountCreated, "a@example.com", "created"))
	}
	require.NoError(t, em.Close(context.Background()))

	assert.Equal(t, 5, failing.count())
	assert.Equal(t, 5, ok.count(), "a failing sink does not stop the others")
}

func TestEmitter_NotifyNeverBlocks(t *testing.T) {
	slow := &recordingSink{name: "slow", block: make(chan struct{})}
	em := NewEmitter(Config{Buffer: 1, Workers: 1, Timeout: time.Second}, slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			em.Notify(context.Background(), domain.NewEvent(domain.EventVideoUploadStarted, "v", "m"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow sink")
	}

	close(slow.block)
	require.NoError(t, em.Close(context.Background()))

	// after close events are ignored
	em.Notify(context.Background(), domain.NewEvent(domain.EventVideoUploadStarted, "v", "m"))
}

func TestDeliver_JoinsErrors(t *testing.T) {
	a := &recordingSink{name: "a", err: errors.New("boom")}
	b := &recordingSink{name: "b"}

	err := Deliver(context.Background(), time.Second, domain.NewEvent(domain.EventCaptchaSolved, "", ""), a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, 1, b.count())
}

func TestOnly(t *testing.T) {
	inner := &recordingSink{name: "inner"}
	f := Only(inner, domain.EventVideoUploadFailed)

	require.NoError(t, f.Send(context.Background(), domain.NewEvent(domain.EventVideoUploadStarted, "", "")))
	require.NoError(t, f.Send(context.Background(), domain.NewEvent(domain.EventVideoUploadFailed, "", "")))
	assert.Equal(t, 1, inner.count())
	assert.Equal(t, "inner", f.Name())
}

func TestTelegram(t *testing.T) {
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "TOKEN", ChatID: "-100", BaseURL: srv.URL})

	e := domain.NewEvent(domain.EventVideoUploadFailed, "<My video>", "quota exceeded").WithField("attempt", 2)
	require.NoError(t, tg.Send(context.Background(), e))

	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	text := got["text"].(string)
	assert.Contains(t, text, "&lt;My video&gt;")
	assert.Contains(t, text, "quota exceeded")
	assert.Contains(t, text, "<b>attempt:</b> <code>2</code>")
}

func TestTelegram_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{BotToken: "bad", ChatID: "1", BaseURL: srv.URL})
	err := tg.SendText(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

type recordingTelemetry struct {
	events []tlmt.Event
}

func (r *recordingTelemetry) Send(_ context.Context, e tlmt.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingTelemetry) Close() error { return nil }

func TestAnalytics(t *testing.T) {
	rec := &recordingTelemetry{}
	sink := NewAnalytics(rec)

	accountID := uuid.New()
	e := domain.NewEvent(domain.EventAccountVerified, "a@example.com", "").WithAccount(accountID).WithField("country", "US")
	require.NoError(t, sink.Send(context.Background(), e))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "account.verified", rec.events[0].Name)
	assert.Equal(t, accountID.String(), rec.events[0].DistinctID)
	assert.Equal(t, "US", rec.events[0].Properties["country"])
}

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestBus(t *testing.T) {
	pub := &recordingPublisher{}
	require.NoError(t, NewBus(pub).Send(context.Background(), domain.NewEvent(domain.EventVideoPublished, "", "")))
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventVideoPublished, pub.events[0].Type)
}
