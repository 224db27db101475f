// Package persist writes state partitions to storage and restores them.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"empctl/internal/emp"
	"empctl/internal/transform"
)

// KeyPrefix is prepended to every persisted document key.
const KeyPrefix = "persist:"

// versionField holds the document metadata alongside the partitions.
const versionField = "_persist"

// Transform rewrites a partition on its way to and from storage. In must not
// fail; an unreadable value comes back as nil.
type Transform interface {
	Applies(partition string) bool
	Out(partition string, state any) (any, error)
	In(partition string, stored any) any
}

var _ Transform = (*transform.Compress)(nil)

// Config describes one persisted document.
type Config struct {
	Key        string
	Version    int
	Storage    emp.Storage
	Whitelist  []string
	Blacklist  []string
	Transforms []Transform
	Logger     emp.Logger
}

type docMeta struct {
	Version int `json:"version"`
}

// Persister saves a selection of partitions as a single document.
type Persister struct {
	cfg    Config
	logger emp.Logger
}

// New creates a Persister from cfg.
func New(cfg Config) (*Persister, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("persist key is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("persist %q: storage is required", cfg.Key)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = emp.NewNopLogger()
	}
	return &Persister{cfg: cfg, logger: logger}, nil
}

// StorageKey returns the key the document is stored under.
func (p *Persister) StorageKey() string {
	return KeyPrefix + p.cfg.Key
}

// Includes reports whether partition belongs in this document.
func (p *Persister) Includes(partition string) bool {
	if partition == versionField {
		return false
	}
	if len(p.cfg.Whitelist) > 0 && !slices.Contains(p.cfg.Whitelist, partition) {
		return false
	}
	return !slices.Contains(p.cfg.Blacklist, partition)
}

// Save writes the included partitions. Transforms are applied in order.
func (p *Persister) Save(ctx context.Context, partitions map[string]any) error {
	doc := make(map[string]json.RawMessage, len(partitions)+1)
	for name, value := range partitions {
		if !p.Includes(name) {
			continue
		}
		raw, err := p.serialize(name, value)
		if err != nil {
			return fmt.Errorf("persist %q: %w", p.cfg.Key, err)
		}
		doc[name] = raw
	}
	meta, err := json.Marshal(docMeta{Version: p.cfg.Version})
	if err != nil {
		return fmt.Errorf("persist %q: encoding metadata: %w", p.cfg.Key, err)
	}
	doc[versionField] = meta

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("persist %q: encoding document: %w", p.cfg.Key, err)
	}
	if err := p.cfg.Storage.SetItem(ctx, p.StorageKey(), string(data)); err != nil {
		return fmt.Errorf("persist %q: writing document: %w", p.cfg.Key, err)
	}
	return nil
}

func (p *Persister) serialize(name string, value any) (json.RawMessage, error) {
	for _, t := range p.cfg.Transforms {
		if !t.Applies(name) {
			continue
		}
		out, err := t.Out(name, value)
		if err != nil {
			return nil, fmt.Errorf("transforming %s: %w", name, err)
		}
		value = out
	}
	s, err := transform.SafeStringify(value)
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", name, err)
	}
	return json.RawMessage(s), nil
}

// Load reads the document back. It returns a nil map when nothing is stored,
// when the document is unreadable or corrupt, or when it was written under a
// different version; corrupt and stale documents are removed. Partitions that a
// transform cannot restore come back as nil.
func (p *Persister) Load(ctx context.Context) (map[string]any, error) {
	data, ok, err := p.cfg.Storage.GetItem(ctx, p.StorageKey())
	if errors.Is(err, emp.ErrCorrupt) {
		p.logger.Warn("discarding corrupt persisted document", "key", p.cfg.Key, "error", err)
		if err := p.Purge(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist %q: reading document: %w", p.cfg.Key, err)
	}
	if !ok {
		return nil, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		p.logger.Warn("ignoring unreadable persisted document", "key", p.cfg.Key, "error", err)
		return nil, nil
	}

	var meta docMeta
	if raw, ok := doc[versionField]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			p.logger.Warn("ignoring persisted document with bad metadata", "key", p.cfg.Key, "error", err)
			return nil, nil
		}
	}
	if meta.Version != p.cfg.Version {
		p.logger.Warn("discarding persisted document from another version",
			"key", p.cfg.Key, "stored", meta.Version, "current", p.cfg.Version)
		if err := p.Purge(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	out := make(map[string]any, len(doc))
	for name, raw := range doc {
		if !p.Includes(name) {
			continue
		}
		out[name] = p.deserialize(name, raw)
	}
	return out, nil
}

func (p *Persister) deserialize(name string, raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		p.logger.Warn("ignoring unreadable partition", "key", p.cfg.Key, "partition", name, "error", err)
		return nil
	}
	for i := len(p.cfg.Transforms) - 1; i >= 0; i-- {
		t := p.cfg.Transforms[i]
		if t.Applies(name) {
			value = t.In(name, value)
		}
	}
	return value
}

// Purge removes the document from storage.
func (p *Persister) Purge(ctx context.Context) error {
	if err := p.cfg.Storage.RemoveItem(ctx, p.StorageKey()); err != nil {
		return fmt.Errorf("persist %q: removing document: %w", p.cfg.Key, err)
	}
	return nil
}
