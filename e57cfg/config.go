// Package e57cfg holds the optional, file-based configuration for a
// go-e57 session. It is deliberately disconnected from flags and
// environment variables: callers who want configuration load a TOML
// file explicitly and pass the result to e57.Create/e57.Open.
package e57cfg

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/dolthub/go-e57/e57errors"
)

// Config tunes the paged checksummed stream and the clean-page cache
// underneath a session. Zero value is not valid; use Default().
type Config struct {
	// PageSize is the physical page size in bytes, payload plus the
	// trailing 4-byte CRC-32C. Must match across the lifetime of a file;
	// changing it for an existing file is not supported.
	PageSize int `toml:"page_size"`

	// ChecksumPolicy is a 0-100 sampling density: on a read, a page whose
	// index falls within this density (see internal/pagestore) is
	// verified. 100 verifies every page; 0 disables verification. Only
	// Validate reads this field: e57.Create/Open/OpenMemory and the
	// internal/session constructors take the policy as their own argument.
	ChecksumPolicy int `toml:"checksum_policy"`

	// CleanPageCacheSize bounds the number of verified, unmodified pages
	// kept in the LRU read cache. 0 disables the cache.
	CleanPageCacheSize int `toml:"clean_page_cache_size"`

	// UseMmap enables the mmap-backed read path for OpenRead sessions.
	// Ignored for in-memory sessions and for OpenWrite.
	UseMmap bool `toml:"use_mmap"`
}

// Default returns the configuration go-e57 uses when the caller supplies
// none: a 1024-byte page, full checksum verification, a modestly sized
// clean-page cache, and mmap enabled.
func Default() Config {
	return Config{
		PageSize:           1024,
		ChecksumPolicy:     100,
		CleanPageCacheSize: 4096,
		UseMmap:            true,
	}
}

// LoadTOML reads a Config from path, starting from Default() so a
// partial file only overrides the fields it names.
func LoadTOML(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, e57errors.Wrap(e57errors.OpenFailed, err, "reading config file "+path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, e57errors.Wrap(e57errors.BadConfiguration, err, "parsing config file "+path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants Config relies on elsewhere: a positive
// page size large enough to hold at least the checksum trailer, and a
// checksum policy within its 0-100 sampling range.
func (c Config) Validate() error {
	const checksumSize = 4
	if c.PageSize <= checksumSize {
		return e57errors.Newf(e57errors.BadConfiguration, "page_size must exceed %d bytes, got %d", checksumSize, c.PageSize)
	}
	if c.ChecksumPolicy < 0 || c.ChecksumPolicy > 100 {
		return e57errors.Newf(e57errors.BadConfiguration, "checksum_policy must be within [0,100], got %d", c.ChecksumPolicy)
	}
	if c.CleanPageCacheSize < 0 {
		return e57errors.Newf(e57errors.BadConfiguration, "clean_page_cache_size must be non-negative, got %d", c.CleanPageCacheSize)
	}
	return nil
}
