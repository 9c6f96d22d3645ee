package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/queue"
	"github.com/ckoons/engram/internal/service"
	"github.com/stretchr/testify/require"
)

func TestSweeperExpiresOverdueMessages(t *testing.T) {
	q, err := queue.Open(t.TempDir())
	require.NoError(t, err)
	q.Register("a")
	q.Register("b")
	ctx := context.Background()

	_, err = q.Send(ctx, "a", "b", model.MessageInfo, model.StringValue("short lived"),
		queue.SendOptions{TTL: 10 * time.Millisecond})
	require.NoError(t, err)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		service.NewSweeperService(q, 20*time.Millisecond).Start(loopCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Expired == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestReaperEvictsIdleClients(t *testing.T) {
	r := clients.New(clients.Options{DataDir: t.TempDir()})
	defer r.Close()
	ctx := context.Background()

	_, err := r.Get(ctx, "idle")
	require.NoError(t, err)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		service.NewReaperService(r, 20*time.Millisecond, 30*time.Millisecond).Start(loopCtx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestFlusherPersistsDirtyState(t *testing.T) {
	dir := t.TempDir()
	r := clients.New(clients.Options{DataDir: dir})
	defer r.Close()
	ctx := context.Background()

	svc, err := r.Get(ctx, "writer")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "unflushed note", model.NamespaceLongterm, nil)
	require.NoError(t, err)
	require.True(t, svc.Dirty())

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		service.NewFlusherService(r, nil, 20*time.Millisecond).Start(loopCtx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !svc.Dirty() }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestFlusherFinalFlushOnCancel(t *testing.T) {
	dir := t.TempDir()
	r := clients.New(clients.Options{DataDir: dir})
	defer r.Close()
	ctx := context.Background()

	svc, err := r.Get(ctx, "writer")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "shutdown note", model.NamespaceLongterm, nil)
	require.NoError(t, err)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		// Interval far beyond the test: only the on-cancel flush runs.
		service.NewFlusherService(r, nil, time.Hour).Start(loopCtx)
		close(done)
	}()
	cancel()
	<-done

	require.False(t, svc.Dirty())
}
