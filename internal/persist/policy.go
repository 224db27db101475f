package persist

import (
	"context"
	"errors"
	"slices"

	"empctl/internal/emp"
)

// PolicyConfig wires the two persisted documents.
type PolicyConfig struct {
	// Key and Version identify the general document.
	Key     string
	Version int
	// SecureKey names the document holding the secure partitions.
	SecureKey string
	// SecurePartitions are kept out of the general document and written only
	// to Secure storage, untransformed.
	SecurePartitions []string

	General    emp.Storage
	Secure     emp.Storage
	Transforms []Transform
	Logger     emp.Logger
}

// Policy routes each partition to exactly one persisted document: secure
// partitions to the secure storage, everything else to the general storage.
type Policy struct {
	general          *Persister
	secure           *Persister
	securePartitions []string
}

// NewPolicy creates both persisters described by cfg.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	secure, err := New(Config{
		Key:       cfg.SecureKey,
		Version:   cfg.Version,
		Storage:   cfg.Secure,
		Whitelist: slices.Clone(cfg.SecurePartitions),
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if len(cfg.SecurePartitions) == 0 {
		// An empty whitelist admits everything; keep the secure document empty.
		secure.cfg.Whitelist = []string{versionField}
	}

	general, err := New(Config{
		Key:        cfg.Key,
		Version:    cfg.Version,
		Storage:    cfg.General,
		Blacklist:  slices.Clone(cfg.SecurePartitions),
		Transforms: cfg.Transforms,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Policy{
		general:          general,
		secure:           secure,
		securePartitions: slices.Clone(cfg.SecurePartitions),
	}, nil
}

// IsSecure reports whether partition is routed to secure storage.
func (p *Policy) IsSecure(partition string) bool {
	return slices.Contains(p.securePartitions, partition)
}

// General returns the persister for non-secure partitions.
func (p *Policy) General() *Persister { return p.general }

// Secure returns the persister for secure partitions.
func (p *Policy) Secure() *Persister { return p.secure }

// Save writes both documents. A failure in one does not prevent the other.
func (p *Policy) Save(ctx context.Context, partitions map[string]any) error {
	return errors.Join(
		p.secure.Save(ctx, partitions),
		p.general.Save(ctx, partitions),
	)
}

// Load restores partitions from both documents.
func (p *Policy) Load(ctx context.Context) (map[string]any, error) {
	general, gerr := p.general.Load(ctx)
	secure, serr := p.secure.Load(ctx)
	if err := errors.Join(gerr, serr); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(general)+len(secure))
	for name, v := range general {
		out[name] = v
	}
	for name, v := range secure {
		out[name] = v
	}
	return out, nil
}

// Purge removes both documents.
func (p *Policy) Purge(ctx context.Context) error {
	return errors.Join(p.secure.Purge(ctx), p.general.Purge(ctx))
}
