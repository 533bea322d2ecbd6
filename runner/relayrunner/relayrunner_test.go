package relayrunner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/notify"
	"github.com/sadewadee/mystic-shorts/runner"
)

type botAPI struct {
	mu     sync.Mutex
	status int
	texts  []string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, body.Text)
	w.WriteHeader(b.status)
}

func newRelay(t *testing.T, status int) (*relay, *botAPI) {
	t.Helper()

	bot := &botAPI{status: status}
	srv := httptest.NewServer(bot)
	t.Cleanup(srv.Close)

	cfg := &runner.Config{TelegramToken: "token", TelegramChatID: "42", TelegramURL: srv.URL}
	return &relay{sinks: []notify.Sink{notify.Log{}, runner.TelegramSink(cfg)}}, bot
}

func TestRelay_Handle(t *testing.T) {
	r, bot := newRelay(t, http.StatusOK)
	ctx := context.Background()

	failed := domain.NewEvent(domain.EventVideoUploadFailed, "Morning vlog", "quota exceeded")
	require.NoError(t, r.handle(ctx, &failed))

	solved := domain.NewEvent(domain.EventCaptchaSolved, "image", "Captcha solved")
	require.NoError(t, r.handle(ctx, &solved))

	require.Len(t, bot.texts, 1, "captcha solutions are not forwarded")
	assert.Contains(t, bot.texts[0], "Morning vlog")
	assert.Contains(t, bot.texts[0], "quota exceeded")
}

func TestRelay_HandleReturnsDeliveryErrors(t *testing.T) {
	r, _ := newRelay(t, http.StatusBadGateway)

	e := domain.NewEvent(domain.EventAccountDeleted, "farm01@example.com", "Account deleted")
	err := r.handle(context.Background(), &e)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestNew_RejectsOtherModes(t *testing.T) {
	_, err := New(&runner.Config{RunMode: runner.RunModeWorker})
	assert.ErrorIs(t, err, runner.ErrInvalidRunMode)
}
