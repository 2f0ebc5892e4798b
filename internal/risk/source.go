package risk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/careops/internal/errors"
)

// LoadedPolicy is a policy plus the provenance needed to audit decisions
type LoadedPolicy struct {
	Policy   *Policy
	Hash     string // sha256 of the raw file, "" for defaults
	Source   string // file path, or "defaults"
	LoadedAt time.Time
}

// Version is a short content hash suitable for logs and records
func (l *LoadedPolicy) Version() string {
	if l.Hash == "" {
		return "defaults"
	}
	return l.Hash[:12]
}

// ParsePolicy decodes a YAML or JSON document. An empty document is an error.
func ParsePolicy(data []byte, format string) (*Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("policy document is empty")
	}

	var p Policy
	switch strings.ToLower(format) {
	case "json", ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parse json policy: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parse yaml policy: %w", err)
		}
	}

	if len(p.ActionTypes) == 0 {
		return nil, fmt.Errorf("policy declares no action_types")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads and parses the policy at path and hashes its raw bytes
func LoadPolicy(path string) (*LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.PolicyErrorf(err, "read policy %s", path)
	}

	p, err := ParsePolicy(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.PolicyErrorf(err, "load policy %s", path)
	}

	sum := sha256.Sum256(data)
	return &LoadedPolicy{
		Policy:   p,
		Hash:     hex.EncodeToString(sum[:]),
		Source:   path,
		LoadedAt: time.Now(),
	}, nil
}

func defaultsLoaded() *LoadedPolicy {
	return &LoadedPolicy{Policy: DefaultPolicy(), Source: "defaults", LoadedAt: time.Now()}
}

// PolicySource serves the current policy. Readers never block and always
// see a complete policy; swaps are atomic.
type PolicySource struct {
	path    string
	current atomic.Pointer[LoadedPolicy]
	logger  *slog.Logger
}

// NewPolicySource loads path, falling back to DefaultPolicy when the file is
// missing or malformed. It never fails.
func NewPolicySource(path string) *PolicySource {
	s := &PolicySource{
		path:   path,
		logger: slog.Default().With("component", "policy"),
	}

	if path == "" {
		s.current.Store(defaultsLoaded())
		return s
	}

	loaded, err := LoadPolicy(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("policy file not found, using defaults", "path", path)
		} else {
			s.logger.Error("policy file invalid, using defaults", "path", path, "error", err)
		}
		loaded = defaultsLoaded()
	} else {
		s.logger.Info("policy loaded", "path", path, "version", loaded.Version())
	}
	s.current.Store(loaded)
	return s
}

// StaticPolicySource serves a fixed policy (tests, embedded use)
func StaticPolicySource(p *Policy) *PolicySource {
	s := &PolicySource{logger: slog.Default().With("component", "policy")}
	s.current.Store(&LoadedPolicy{Policy: p, Source: "static", LoadedAt: time.Now()})
	return s
}

// Current returns the active policy and its provenance
func (s *PolicySource) Current() *LoadedPolicy {
	return s.current.Load()
}

// Policy returns the active policy
func (s *PolicySource) Policy() *Policy {
	return s.current.Load().Policy
}

// Reload re-reads the policy file. On failure the previous policy stays in
// force and the error is returned.
func (s *PolicySource) Reload() error {
	if s.path == "" {
		return nil
	}

	loaded, err := LoadPolicy(s.path)
	if err != nil {
		s.logger.Error("policy reload failed, keeping previous policy",
			"path", s.path, "version", s.Current().Version(), "error", err)
		return err
	}

	prev := s.current.Swap(loaded)
	if prev.Hash != loaded.Hash {
		s.logger.Info("policy reloaded", "path", s.path, "from", prev.Version(), "to", loaded.Version())
	}
	return nil
}

// Watch reloads the policy whenever its file changes, until ctx ends. The
// parent directory is watched so editors that replace the file are seen.
func (s *PolicySource) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("policy source has no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					_ = s.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("policy watcher error", "error", err)
			}
		}
	}()

	return nil
}
