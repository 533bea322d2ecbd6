package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

func TestAccounts(t *testing.T) {
	country := "US"
	accounts := []*domain.Account{
		{ID: uuid.New(), Email: "a@example.com", Status: domain.AccountStatusActive, IsWarmedUp: true, WarmingProgress: 100, Country: &country, CreatedAt: time.Now()},
		{ID: uuid.New(), Email: "b@example.com", Status: domain.AccountStatusPendingVerification, CreatedAt: time.Now()},
	}

	var buf bytes.Buffer
	require.NoError(t, Accounts(&buf, accounts))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Accounts")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Email", rows[0][1])
	assert.Equal(t, "a@example.com", rows[1][1])
	assert.Equal(t, "active", rows[1][2])
	assert.Equal(t, "US", rows[1][6])
	assert.Equal(t, "pending_verification", rows[2][2])
}

func TestVideos(t *testing.T) {
	url := "https://www.youtube.com/watch?v=abc"
	videos := []*domain.Video{{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Title:     "Clip",
		Status:    domain.VideoStatusCompleted,
		RemoteURL: &url,
		Tags:      domain.Tags{"a", "b"},
	}}

	var buf bytes.Buffer
	require.NoError(t, Videos(&buf, videos))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Videos")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Clip", rows[1][2])
	assert.Equal(t, url, rows[1][6])
	assert.Equal(t, "a, b", rows[1][9])
}

func TestEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Videos(&buf, nil))
	assert.NotZero(t, buf.Len())
}
