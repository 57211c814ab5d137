package adaptive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	manager, err := NewManager(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), manager.Config())

	invalid := DefaultConfig()
	invalid.Quality.UpgradeRecovery = -time.Second
	manager, err = NewManager(invalid)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Nil(t, manager)
}

func TestManagerConfigIsACopy(t *testing.T) {
	manager, err := NewManager(nil)
	require.NoError(t, err)

	config := manager.Config()
	config.Recovery.MaxRetries = 9
	assert.Equal(t, 3, manager.Config().Recovery.MaxRetries)
}

func TestUpdateNotifiesChangedSections(t *testing.T) {
	manager, err := NewManager(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := manager.Subscribe(ctx)

	next := manager.Config()
	next.Scroll.DebounceDelay = 200 * time.Millisecond
	next.Recovery.MaxRetries = 5
	require.NoError(t, manager.Update(next, "test"))

	ev := <-events
	assert.Equal(t, EventUpdate, ev.Type)
	assert.True(t, ev.Success)
	assert.Equal(t, "test", ev.Source)
	assert.Equal(t, []string{"scroll", "recovery"}, ev.Sections)
	assert.Equal(t, 5, ev.Config.Recovery.MaxRetries)

	// unchanged configuration is not an event
	require.NoError(t, manager.Update(manager.Config(), "test"))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	manager, err := NewManager(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := manager.Subscribe(ctx)

	bad := manager.Config()
	bad.Content = nil
	assert.ErrorIs(t, manager.Update(bad, "test"), ErrInvalidConfiguration)

	ev := <-events
	assert.Equal(t, EventReject, ev.Type)
	assert.False(t, ev.Success)
	assert.NotEmpty(t, ev.Error)
	assert.NotNil(t, manager.Config().Content)
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	manager, err := NewManager(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := manager.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

// replaceFile renames a new file into place so the watcher never reads a
// half-written one.
func replaceFile(path, data string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func TestWatchReloadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perfgov.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recovery:\n  max_retries: 3\n"), 0o644))

	manager, err := NewManager(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := manager.Subscribe(ctx)

	done := make(chan error, 1)
	go func() { done <- manager.Watch(ctx, path) }()

	// the watcher may not be registered yet; keep writing until it reacts
	var ev *ChangeEvent
	require.Eventually(t, func() bool {
		if err := replaceFile(path, "recovery:\n  max_retries: 6\n"); err != nil {
			return false
		}
		select {
		case ev = <-events:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, EventUpdate, ev.Type)
	assert.Equal(t, []string{"recovery"}, ev.Sections)
	assert.Equal(t, 6, manager.Config().Recovery.MaxRetries)

	// a broken file leaves the live configuration alone
	require.NoError(t, replaceFile(path, "recovery:\n  history_size: 0\n"))
	require.Eventually(t, func() bool {
		select {
		case ev = <-events:
			return ev.Type == EventReject
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 6, manager.Config().Recovery.MaxRetries)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
