package syncloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arena-leaderboard-sync/internal/driver"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage"
	"github.com/JakeFAU/arena-leaderboard-sync/internal/storage/memory"
)

type fakeShots struct {
	mu    sync.Mutex
	img   []byte
	err   error
	calls int
}

func (f *fakeShots) Screenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.img, f.err
}

func TestScreenshotCaptureWritesBlob(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	task := NewScreenshotTask(ScreenshotConfig{}, &fakeShots{img: []byte("jpeg")}, store, nil)

	require.NoError(t, task.Capture(context.Background()))
	data, err := store.ReadObject(DefaultScreenshotPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
	assert.Equal(t, []byte("jpeg"), task.Last())
}

func TestScreenshotCaptureFailureKeepsLast(t *testing.T) {
	t.Parallel()

	shots := &fakeShots{img: []byte("one")}
	store := &storage.MockBlobStore{}
	store.On("PutObject", mock.Anything, "shots/page.jpg", "image/jpeg", []byte("one")).Return("memory://x", nil).Once()
	task := NewScreenshotTask(ScreenshotConfig{Path: "shots/page.jpg"}, shots, store, nil)
	require.NoError(t, task.Capture(context.Background()))

	shots.err = errors.New("target closed")
	require.Error(t, task.Capture(context.Background()))
	assert.Equal(t, []byte("one"), task.Last())
	store.AssertExpectations(t)
}

func TestScreenshotCaptureStoreFailure(t *testing.T) {
	t.Parallel()

	store := &storage.MockBlobStore{}
	store.On("PutObject", mock.Anything, DefaultScreenshotPath, "image/jpeg", []byte("img")).Return("", errors.New("disk full"))
	task := NewScreenshotTask(ScreenshotConfig{}, &fakeShots{img: []byte("img")}, store, nil)

	require.ErrorContains(t, task.Capture(context.Background()), "disk full")
	assert.Nil(t, task.Last())
}

func TestScreenshotRunStopsWhenUnsupported(t *testing.T) {
	t.Parallel()

	shots := &fakeShots{err: driver.ErrScreenshotUnsupported}
	task := NewScreenshotTask(ScreenshotConfig{Interval: time.Millisecond}, shots, memory.NewBlobStore(), nil)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("screenshot task did not stop")
	}
}

func TestScreenshotRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	shots := &fakeShots{img: []byte("x")}
	task := NewScreenshotTask(ScreenshotConfig{Interval: 5 * time.Millisecond}, shots, memory.NewBlobStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()
	require.Eventually(t, func() bool {
		shots.mu.Lock()
		defer shots.mu.Unlock()
		return shots.calls >= 2
	}, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type stalledShots struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stalledShots) Screenshot(ctx context.Context) ([]byte, error) {
	close(s.entered)
	select {
	case <-s.release:
		return []byte("late"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSlowScreenshotDoesNotDelayCycle(t *testing.T) {
	t.Parallel()

	shots := &stalledShots{entered: make(chan struct{}), release: make(chan struct{})}
	task := NewScreenshotTask(ScreenshotConfig{Timeout: time.Minute}, shots, memory.NewBlobStore(), nil)
	h := newHarness(t, &fakeDriver{bodies: []string{payload("alpha")}}, Config{})

	captured := make(chan error, 1)
	go func() { captured <- task.Capture(context.Background()) }()
	<-shots.entered

	cycle := make(chan CycleReport, 1)
	go func() { cycle <- h.loop.RunCycle(context.Background()) }()
	select {
	case report := <-cycle:
		assert.Equal(t, OutcomeFresh, report.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle waited on the screenshot")
	}

	close(shots.release)
	require.NoError(t, <-captured)
	assert.Equal(t, []byte("late"), task.Last())
}
