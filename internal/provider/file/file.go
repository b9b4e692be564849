// Package file serves usage stats from a JSON dump exported by the device,
// for example with `adb shell dumpsys usagestats` post-processed by the
// companion app. The dump is the payload itself: an array of records or an
// object keyed by package name.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fsnotify/fsnotify"
	"github.com/goodtune/detoxmine/internal/provider"
	"github.com/rs/zerolog"
)

// Provider reads usage from a dump file. It cannot open OS settings, so it
// exposes no SettingsLauncher.
type Provider struct {
	path   string
	logger zerolog.Logger
}

// New creates a provider for the dump at path.
func New(path string) *Provider {
	return &Provider{path: path, logger: zerolog.Nop()}
}

// SetLogger sets the logger used by Watch.
func (p *Provider) SetLogger(logger zerolog.Logger) {
	p.logger = logger.With().Str("component", "file-provider").Logger()
}

// Capabilities returns the capabilities a dump can serve.
func (p *Provider) Capabilities() *provider.Capabilities {
	return &provider.Capabilities{
		Permission:  p,
		Query:       p,
		Frequencies: &provider.Frequencies{Daily: provider.FrequencyDaily},
	}
}

// CheckForPermission treats a readable dump as granted access.
func (p *Provider) CheckForPermission(ctx context.Context) (bool, error) {
	f, err := os.Open(p.path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open dump: %w", err)
	}
	_ = f.Close()
	return true, nil
}

// QueryUsageStats returns the dump contents. The dump already covers a single
// reporting interval so the range is not applied.
func (p *Provider) QueryUsageStats(ctx context.Context, freq provider.Frequency, startMs, endMs int64) (provider.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no dump at %s", provider.ErrUnavailable, p.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	if !sonic.Valid(data) {
		return nil, fmt.Errorf("dump %s is not valid JSON", p.path)
	}
	return data, nil
}

// Watch calls onChange once the dump has been written and left alone for
// delay. The containing directory is watched so that dumps replaced by
// rename are seen too. Watch returns after setup; the watcher runs until ctx
// is done.
func (p *Provider) Watch(ctx context.Context, delay time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create dump watcher: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch dump directory %s: %w", dir, err)
	}

	go p.watch(ctx, watcher, delay, onChange)

	p.logger.Info().Str("path", p.path).Msg("Watching usage dump")
	return nil
}

func (p *Provider) watch(ctx context.Context, watcher *fsnotify.Watcher, delay time.Duration, onChange func()) {
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(p.path)
	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce rapid successive writes
			if timer == nil {
				timer = time.AfterFunc(delay, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(delay)
			}

		case <-fire:
			p.logger.Debug().Str("path", p.path).Msg("Usage dump changed")
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("Usage dump watcher error")

		case <-ctx.Done():
			return
		}
	}
}
