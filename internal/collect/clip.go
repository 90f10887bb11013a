// Package collect gathers candidate clips for a category from every
// registered origin.
package collect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hearalert/soundbank/internal/pcm"
)

// Origin names.
const (
	OriginNatural  = "natural"
	OriginExternal = "external"
	OriginPrior    = "prior"
)

// Clip is the provenance of one candidate recording. It is immutable after
// creation apart from the lazily computed fingerprint.
type Clip struct {
	ID       string
	Origin   string
	Label    string
	Category string
	Path     string
	Info     pcm.Info

	fpOnce sync.Once
	fp     string
	fpErr  error
}

// NewClip probes path and returns its Clip. rel identifies the file within
// its origin and forms the ID.
func NewClip(origin, label, category, path, rel string) (*Clip, error) {
	info, err := pcm.ProbeFile(path)
	if err != nil {
		return nil, err
	}
	return &Clip{
		ID:       origin + ":" + rel,
		Origin:   origin,
		Label:    label,
		Category: category,
		Path:     path,
		Info:     info,
	}, nil
}

// Duration returns the playback length.
func (c *Clip) Duration() time.Duration {
	return c.Info.Duration
}

// Fingerprint returns the hex SHA-256 of the file contents, computed on
// first use.
func (c *Clip) Fingerprint() (string, error) {
	c.fpOnce.Do(func() {
		c.fp, c.fpErr = fingerprintFile(c.Path)
	})
	return c.fp, c.fpErr
}

func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Warning records a candidate file that was skipped.
type Warning struct {
	Origin string
	Path   string
	Err    error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %v", w.Origin, w.Path, w.Err)
}

// Pool is the ordered candidate set of one category.
type Pool struct {
	Category string
	Clips    []*Clip
	Warnings []Warning
}

// ByOrigin returns the clips from the given origins, in pool order.
func (p *Pool) ByOrigin(origins ...string) []*Clip {
	var out []*Clip
	for _, c := range p.Clips {
		for _, o := range origins {
			if c.Origin == o {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
