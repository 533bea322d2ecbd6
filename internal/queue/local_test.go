package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_DispatchRunsHandler(t *testing.T) {
	d := NewLocal(2)
	defer d.Close()

	got := make(chan string, 1)
	d.Handle(TypeAccountWarmup, func(ctx context.Context, p *Payload) error {
		got <- p.EntityID
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), TypeAccountWarmup, NewPayload("acc-1")))

	select {
	case id := <-got:
		assert.Equal(t, "acc-1", id)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
}

func TestLocal_UnknownTask(t *testing.T) {
	d := NewLocal(1)
	defer d.Close()

	err := d.Dispatch(context.Background(), "nope", NewPayload("x"))
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestLocal_RejectsDuplicateAndCancels(t *testing.T) {
	d := NewLocal(2)
	defer d.Close()

	started := make(chan struct{})
	result := make(chan error, 1)
	d.Handle(TypeVideoUpload, func(ctx context.Context, p *Payload) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})

	require.NoError(t, d.Dispatch(context.Background(), TypeVideoUpload, NewPayload("v1")))
	<-started

	assert.ErrorIs(t, d.Dispatch(context.Background(), TypeVideoUpload, NewPayload("v1")), ErrAlreadyRunning)
	assert.True(t, d.Running(TypeVideoUpload, "v1"))

	assert.True(t, d.Cancel(context.Background(), TypeVideoUpload, "v1"))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not reach the handler")
	}

	d.Wait()
	assert.False(t, d.Running(TypeVideoUpload, "v1"))
	assert.False(t, d.Cancel(context.Background(), TypeVideoUpload, "v1"))
}

func TestLocal_RedispatchAfterCancel(t *testing.T) {
	d := NewLocal(2)
	defer d.Close()

	release := make(chan struct{})
	attempts := make(chan string, 2)
	d.Handle(TypeVideoUpload, func(ctx context.Context, p *Payload) error {
		attempts <- p.Attempt
		if p.Attempt == "first" {
			// keep running past the cancel
			<-release
		}
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), TypeVideoUpload, NewPayload("v1").WithAttempt("first")))
	assert.Equal(t, "first", <-attempts)

	assert.True(t, d.Cancel(context.Background(), TypeVideoUpload, "v1"))
	assert.False(t, d.Running(TypeVideoUpload, "v1"))

	require.NoError(t, d.Dispatch(context.Background(), TypeVideoUpload, NewPayload("v1").WithAttempt("second")))
	assert.Equal(t, "second", <-attempts)

	close(release)
	d.Wait()
	assert.False(t, d.Running(TypeVideoUpload, "v1"))
}

func TestLocal_ConcurrencyLimit(t *testing.T) {
	d := NewLocal(2)
	defer d.Close()

	var active, peak int32
	release := make(chan struct{})
	d.Handle(TypeProxyHealthCheck, func(ctx context.Context, p *Payload) error {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	})

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, d.Dispatch(context.Background(), TypeProxyHealthCheck, NewPayload(id)))
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	d.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestLocal_PanicIsContained(t *testing.T) {
	d := NewLocal(1)
	defer d.Close()

	d.Handle(TypeCaptchaSolve, func(ctx context.Context, p *Payload) error {
		panic("boom")
	})

	require.NoError(t, d.Dispatch(context.Background(), TypeCaptchaSolve, NewPayload("c1")))
	d.Wait()
	assert.False(t, d.Running(TypeCaptchaSolve, "c1"))
}

func TestLocal_ShutdownRejectsNewWork(t *testing.T) {
	d := NewLocal(1)
	d.Handle(TypeAccountWarmup, func(ctx context.Context, p *Payload) error {
		return errors.New("ignored")
	})

	require.NoError(t, d.Shutdown(context.Background()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), TypeAccountWarmup, NewPayload("a")), ErrClosed)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(`{"entity_id":"abc","attempt":"a1","created_at":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", p.EntityID)
	assert.Equal(t, "a1", p.Attempt)

	_, err = ParsePayload([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParsePayload([]byte(`not json`))
	assert.Error(t, err)
}
