// Package model defines the data structures shared by the gloom pipeline.
package model

// Path represents a file system path.
type Path string

// Fingerprint identifies the exact code a test binary was built from. It is a
// lowercase hex SHA-256 digest and is safe to use as a directory name.
type Fingerprint string

// Short returns an abbreviated fingerprint for display.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}

	return string(f[:12])
}
