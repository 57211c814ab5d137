package adaptive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("perfgov/config")

// Change event types
const (
	EventUpdate = "update"
	EventReject = "reject"
)

// ChangeEvent describes one attempted configuration change
type ChangeEvent struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Sections  []string        `json:"sections,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Config    *AdaptiveConfig `json:"-"`
}

// Manager holds the live configuration and tells subscribers when it
// changes
type Manager struct {
	mu     sync.RWMutex
	config *AdaptiveConfig

	subMu       sync.Mutex
	subscribers map[chan *ChangeEvent]struct{}

	now func() time.Time
}

// NewManager creates a manager holding a copy of config. A nil config uses
// DefaultConfig.
func NewManager(config *AdaptiveConfig) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		config:      config.Clone(),
		subscribers: make(map[chan *ChangeEvent]struct{}),
		now:         time.Now,
	}, nil
}

// Config returns a copy of the live configuration
func (m *Manager) Config() *AdaptiveConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// Update validates newConfig and makes it live. Subscribers are notified of
// the sections that changed; an identical configuration notifies nobody.
func (m *Manager) Update(newConfig *AdaptiveConfig, source string) error {
	if err := newConfig.Validate(); err != nil {
		m.notify(&ChangeEvent{
			Type:      EventReject,
			Source:    source,
			Timestamp: m.now(),
			Error:     err.Error(),
		})
		return err
	}

	m.mu.Lock()
	sections := changedSections(m.config, newConfig)
	if len(sections) == 0 {
		m.mu.Unlock()
		return nil
	}
	m.config = newConfig.Clone()
	live := m.config.Clone()
	m.mu.Unlock()

	log.Infof("configuration updated from %s: %v", source, sections)
	m.notify(&ChangeEvent{
		Type:      EventUpdate,
		Source:    source,
		Sections:  sections,
		Timestamp: m.now(),
		Success:   true,
		Config:    live,
	})
	return nil
}

// Subscribe returns a channel of change events. The channel is closed once
// ctx is done. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe(ctx context.Context) <-chan *ChangeEvent {
	ch := make(chan *ChangeEvent, 10)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.subMu.Unlock()
	}()
	return ch
}

func (m *Manager) notify(event *ChangeEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			log.Warnf("subscriber full, dropping %s event from %s", event.Type, event.Source)
		}
	}
}

// Reload loads path and applies it.
func (m *Manager) Reload(path string) error {
	source := "file:" + path
	cfg, err := LoadFile(path)
	if err != nil {
		m.notify(&ChangeEvent{
			Type:      EventReject,
			Source:    source,
			Timestamp: m.now(),
			Error:     err.Error(),
		})
		return err
	}
	return m.Update(cfg, source)
}

// Watch reloads path whenever it is written, created or renamed into
// place, until ctx is done. The directory is watched so editors that
// replace the file are followed.
func (m *Manager) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch configuration directory: %w", err)
	}
	log.Debugf("watching %s", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := m.Reload(abs); err != nil {
				log.Warnf("configuration reload rejected, keeping previous: %s", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if rerr := m.Reload(abs); rerr != nil {
					log.Warnf("configuration reload rejected, keeping previous: %s", rerr)
				}
				continue
			}
			log.Errorf("configuration watcher: %s", err)
		}
	}
}

func changedSections(old, new *AdaptiveConfig) []string {
	var sections []string
	pairs := []struct {
		name     string
		old, new interface{}
	}{
		{"monitoring", old.Monitoring, new.Monitoring},
		{"quality", old.Quality, new.Quality},
		{"observer", old.Observer, new.Observer},
		{"scroll", old.Scroll, new.Scroll},
		{"content", old.Content, new.Content},
		{"recovery", old.Recovery, new.Recovery},
		{"probes", old.Probes, new.Probes},
		{"server", old.Server, new.Server},
	}
	for _, p := range pairs {
		if !reflect.DeepEqual(p.old, p.new) {
			sections = append(sections, p.name)
		}
	}
	return sections
}
