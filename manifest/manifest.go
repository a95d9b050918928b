// Package manifest loads and queries the precache manifest the site build
// emits. The manifest names the cache generation and lists every built asset
// URL; hashed filenames follow the name.<8-hex>.ext convention.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Manifest is the build output consumed at worker install time. It is
// immutable once loaded; a new build produces a new cache name, which in
// turn triggers old-generation cleanup on activation.
type Manifest struct {
	CacheName string   `json:"cacheName"`
	URLs      []string `json:"urls"`
	Version   int      `json:"version"`
	Worker    string   `json:"worker,omitempty"`
	Logo      string   `json:"logo,omitempty"`
}

// hashedName matches path segments like "app.3f2a1c9d.js": a basename, an
// 8-hex-char content hash, and an extension.
var hashedName = regexp.MustCompile(`^(.+)\.([0-9a-f]{8})\.([A-Za-z0-9]+)$`)

// Load reads and validates a manifest JSON file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest JSON.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the configuration contract: an unnamed cache or an empty
// URL list is a build error and must fail installation, never no-op.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.CacheName) == "" {
		return fmt.Errorf("manifest: empty cacheName")
	}
	if len(m.URLs) == 0 {
		return fmt.Errorf("manifest: empty url list")
	}
	return nil
}

// SplitHash splits the final path segment of p into logical base, content
// hash and extension. ok is false when the segment does not carry a hash.
func SplitHash(p string) (base, hash, ext string, ok bool) {
	dir, file := splitLast(p, '/')
	match := hashedName.FindStringSubmatch(file)
	if match == nil {
		return "", "", "", false
	}
	base = match[1]
	if dir != "" {
		base = dir + "/" + base
	}
	return base, match[2], match[3], true
}

// StripHash returns p with the content-hash segment removed, e.g.
// "/assets/app.3f2a1c9d.js" → "/assets/app.js". When p carries no hash it is
// returned unchanged.
func StripHash(p string) string {
	base, _, ext, ok := SplitHash(p)
	if !ok {
		return p
	}
	return base + "." + ext
}

// Lookup finds the manifest entry whose logical identity (base + ext,
// ignoring hash) matches the given hashed path. It returns "" when the
// manifest holds no sibling for that asset.
func (m *Manifest) Lookup(p string) string {
	base, hash, ext, ok := SplitHash(p)
	if !ok {
		return ""
	}
	for _, u := range m.URLs {
		b, h, e, ok := SplitHash(u)
		if !ok {
			continue
		}
		if b == base && e == ext && h != hash {
			return u
		}
	}
	return ""
}

// Contains reports whether url is in the precache list.
func (m *Manifest) Contains(url string) bool {
	for _, u := range m.URLs {
		if u == url {
			return true
		}
	}
	return false
}

func splitLast(s string, sep byte) (head, tail string) {
	if i := strings.LastIndexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}
