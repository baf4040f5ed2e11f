package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/cosim"
	"github.com/GoCodeAlone/cosim/protocol"
)

const announcementSuffix = ".endpoint.json"

// Announcement is what a party publishes once its endpoints are listening.
type Announcement struct {
	Role      cosim.Role          `json:"role"`
	PID       int                 `json:"pid"`
	Endpoints []protocol.Endpoint `json:"endpoints"`
	At        time.Time           `json:"at"`
}

// PublishEndpoint writes a's announcement into dir. The file appears
// atomically, so a watcher never reads a partial announcement.
func PublishEndpoint(dir string, a Announcement) error {
	if !a.Role.Valid() {
		return fmt.Errorf("announce: unknown role %q", a.Role)
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("announce %s: %w", a.Role, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("announce %s: %w", a.Role, err)
	}
	tmp, err := os.CreateTemp(dir, "."+string(a.Role)+"-*")
	if err != nil {
		return fmt.Errorf("announce %s: %w", a.Role, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("announce %s: %w", a.Role, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("announce %s: %w", a.Role, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, string(a.Role)+announcementSuffix))
}

// WaitForEndpoints blocks until every role in roles has published an
// announcement in dir, or ctx is done.
func WaitForEndpoints(ctx context.Context, dir string, roles ...cosim.Role) (map[cosim.Role]Announcement, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	found := make(map[cosim.Role]Announcement, len(roles))
	wanted := make(map[cosim.Role]bool, len(roles))
	for _, r := range roles {
		wanted[r] = true
	}

	// Announcements published before the watch started.
	for r := range wanted {
		if a, err := readAnnouncement(filepath.Join(dir, string(r)+announcementSuffix)); err == nil {
			found[r] = a
		}
	}

	for len(found) < len(wanted) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", missing(wanted, found), ctx.Err())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, errors.New("endpoint watcher closed")
			}
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, errors.New("endpoint watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			role := cosim.Role(strings.TrimSuffix(name, announcementSuffix))
			if !strings.HasSuffix(name, announcementSuffix) || !wanted[role] {
				continue
			}
			a, err := readAnnouncement(event.Name)
			if err != nil {
				continue
			}
			found[role] = a
		}
	}
	return found, nil
}

func readAnnouncement(path string) (Announcement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Announcement{}, err
	}
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Announcement{}, err
	}
	return a, nil
}

func missing(wanted map[cosim.Role]bool, found map[cosim.Role]Announcement) string {
	var names []string
	for r := range wanted {
		if _, ok := found[r]; !ok {
			names = append(names, string(r))
		}
	}
	return strings.Join(names, ", ")
}
