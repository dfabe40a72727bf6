package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// poller detects changes by periodically listing the target.
type poller struct {
	target   target
	interval time.Duration
	state    map[string]fileSnapshot
}

func newPoller(t target, interval time.Duration) *poller {
	return &poller{target: t, interval: interval, state: make(map[string]fileSnapshot)}
}

// run polls until ctx is done or stop is closed.
func (p *poller) run(ctx context.Context, stop <-chan struct{}, emit func(FileEvent), report func(error)) {
	p.state, _ = p.snapshot()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, ev := range p.detect(report) {
				emit(ev)
			}
		}
	}
}

// detect compares the current listing with the previous one.
func (p *poller) detect(report func(error)) []FileEvent {
	current, err := p.snapshot()
	if err != nil {
		report(err)
		return nil
	}

	now := time.Now()
	var events []FileEvent
	for path, snap := range current {
		prev, ok := p.state[path]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: path, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			events = append(events, FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path := range p.state {
		if _, ok := current[path]; !ok {
			events = append(events, FileEvent{Path: path, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return events
}

func (p *poller) snapshot() (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(p.target.dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]fileSnapshot)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(p.target.dir, e.Name())
		if !p.target.matches(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return out, nil
}
