// Package transform holds the reversible state transforms applied at the
// persistence boundary.
package transform

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"

	lzstring "github.com/daku10/go-lz-string"

	"empctl/internal/emp"
)

// Config scopes a transform to a set of partitions and controls diagnostics.
type Config struct {
	// Whitelist, when non-empty, limits the transform to these partitions.
	Whitelist []string
	// Blacklist excludes partitions from the transform.
	Blacklist []string
	// Diagnostics enables logging of inbound decode problems. It is switched
	// off in production builds.
	Diagnostics bool
	Logger      emp.Logger
}

// Compress serializes a partition to cycle-tolerant JSON and stores it as the
// string whose UTF-16 code units are the lz-string UTF-16 encoding.
type Compress struct {
	whitelist   []string
	blacklist   []string
	diagnostics bool
	logger      emp.Logger
}

// NewCompress creates a compression transform from cfg.
func NewCompress(cfg Config) *Compress {
	logger := cfg.Logger
	if logger == nil {
		logger = emp.NewNopLogger()
	}
	return &Compress{
		whitelist:   cfg.Whitelist,
		blacklist:   cfg.Blacklist,
		diagnostics: cfg.Diagnostics,
		logger:      logger,
	}
}

// Applies reports whether the transform is configured for partition.
func (c *Compress) Applies(partition string) bool {
	if len(c.whitelist) > 0 && !slices.Contains(c.whitelist, partition) {
		return false
	}
	return !slices.Contains(c.blacklist, partition)
}

// Out converts in-memory state into its stored form.
func (c *Compress) Out(partition string, state any) (any, error) {
	s, err := SafeStringify(state)
	if err != nil {
		return nil, fmt.Errorf("stringifying %s: %w", partition, err)
	}
	compressed, err := lzstring.CompressToUTF16(s)
	if err != nil {
		return nil, fmt.Errorf("compressing %s: %w", partition, err)
	}
	// Code units stay below the surrogate range, so the string form is lossless.
	return string(utf16.Decode(compressed)), nil
}

// In converts a stored value back into state. It never fails: a value that
// is not a string is returned unchanged, and a value that cannot be
// decompressed or parsed yields nil.
func (c *Compress) In(partition string, stored any) any {
	s, ok := stored.(string)
	if !ok {
		c.diagnose("expected outbound state to be a string", "partition", partition, "type", fmt.Sprintf("%T", stored))
		return stored
	}

	decompressed, err := decompress(s)
	if err == nil && decompressed == "" {
		err = fmt.Errorf("empty decompression result")
	}
	if err != nil {
		c.diagnose("error while decompressing state", "partition", partition, "error", err)
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(decompressed))
	dec.UseNumber()
	var state any
	err = dec.Decode(&state)
	if err == nil && dec.More() {
		err = fmt.Errorf("trailing data after state document")
	}
	if err != nil {
		c.diagnose("error while decompressing state", "partition", partition, "error", err)
		return nil
	}
	return state
}

// decompress shields callers from panics inside the decoder on malformed input.
func decompress(s string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decompressing: %v", r)
		}
	}()
	return lzstring.DecompressFromUTF16(utf16.Encode([]rune(s)))
}

func (c *Compress) diagnose(msg string, args ...any) {
	if c.diagnostics {
		c.logger.Error(msg, args...)
	}
}
