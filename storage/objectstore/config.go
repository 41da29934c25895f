package objectstore

import (
	"regexp"
	"time"

	"github.com/c360/bcistream/errors"
)

var bucketName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds configuration for the session archive.
type Config struct {
	// Bucket is the JetStream object store bucket, created when missing.
	Bucket      string `json:"bucket" yaml:"bucket"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// MaxBytes caps the bucket size. Zero means unlimited.
	MaxBytes int64 `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
	// TTL expires archived objects. Zero keeps them forever.
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	// UploadTimeout bounds the upload of one file.
	UploadTimeout time.Duration `json:"upload_timeout" yaml:"upload_timeout"`
}

// DefaultConfig returns the default archive configuration.
func DefaultConfig() Config {
	return Config{
		Bucket:        "BCI_SESSIONS",
		Description:   "bcistream session recordings",
		UploadTimeout: 2 * time.Minute,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "objectstore.Config", "Validate", "bucket is required")
	}
	if !bucketName.MatchString(c.Bucket) {
		return errors.Invalidf(errors.ErrInvalidConfig, "objectstore.Config", "Validate",
			"bucket %q may only contain letters, digits, '-' and '_'", c.Bucket)
	}
	if c.MaxBytes < 0 || c.TTL < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "objectstore.Config", "Validate",
			"max_bytes and ttl must not be negative")
	}
	if c.UploadTimeout <= 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "objectstore.Config", "Validate",
			"upload_timeout must be positive, got %s", c.UploadTimeout)
	}
	return nil
}
