package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Site is one tenant served by this installation.
type Site struct {
	Nickname    string `yaml:"nickname"`
	ServerName  string `yaml:"server"`
	BaseURL     string `yaml:"base_url"`
	MaxRetries  int    `yaml:"max_retries,omitempty"`
	PushRetries int    `yaml:"push_retries,omitempty"`
}

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// SiteRegistry holds the tenants the queue daemons may run tasks for.
// Without a file it holds the single default site.
type SiteRegistry struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	sites map[string]Site
}

// LoadSites reads path, or builds a registry for def alone when path is
// empty.
func LoadSites(path string, def Site, logger *slog.Logger) (*SiteRegistry, error) {
	r := &SiteRegistry{path: path, logger: logger, sites: make(map[string]Site)}
	if path == "" {
		r.sites[def.Nickname] = def
		return r, nil
	}
	sites, err := r.read()
	if err != nil {
		return nil, err
	}
	r.sites = sites
	return r, nil
}

func (r *SiteRegistry) read() (map[string]Site, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading sites file: %w", err)
	}
	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sites file: %w", err)
	}
	sites := make(map[string]Site, len(f.Sites))
	for _, s := range f.Sites {
		if s.Nickname == "" {
			return nil, fmt.Errorf("parsing sites file: site without nickname")
		}
		if _, dup := sites[s.Nickname]; dup {
			return nil, fmt.Errorf("parsing sites file: duplicate site %q", s.Nickname)
		}
		sites[s.Nickname] = s
	}
	return sites, nil
}

// Has reports whether nickname is a known site.
func (r *SiteRegistry) Has(nickname string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sites[nickname]
	return ok
}

// Get returns the site called nickname.
func (r *SiteRegistry) Get(nickname string) (Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[nickname]
	return s, ok
}

// Nicknames lists every site, sorted.
func (r *SiteRegistry) Nicknames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sites))
	for n := range r.sites {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Reload re-reads one site from the file. A site no longer in the file is
// dropped.
func (r *SiteRegistry) Reload(nickname string) error {
	if r.path == "" {
		return nil
	}
	sites, err := r.read()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := sites[nickname]; ok {
		r.sites[nickname] = s
	} else {
		delete(r.sites, nickname)
	}
	return nil
}

// ReloadAll replaces every site with the file's contents.
func (r *SiteRegistry) ReloadAll() error {
	if r.path == "" {
		return nil
	}
	sites, err := r.read()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sites = sites
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever the file changes, until ctx ends.
// The directory is watched since editors replace files by renaming.
func (r *SiteRegistry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watching %s: %w", r.path, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := r.ReloadAll(); err != nil {
				r.logger.Error("sites reload failed", "path", r.path, "error", err)
				continue
			}
			r.logger.Info("sites reloaded", "path", r.path, "sites", len(r.Nicknames()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("sites watcher error", "error", err)
		}
	}
}
