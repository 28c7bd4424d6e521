package model

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// DefaultBuildTag is the build tag that links the model checker into the
// code under test.
const DefaultBuildTag = "loom"

const binaryHashLen = 12

// BuildConfig holds the settings that change which code ends up in a test
// binary. Everything here except the directories is part of the artifact
// fingerprint.
type BuildConfig struct {
	Packages []string
	Tags     []string
	WorkDir  Path
	OutDir   Path
}

// TagsArg renders the tags for the -tags flag of the go command.
func (c BuildConfig) TagsArg() string {
	return strings.Join(c.Tags, ",")
}

// Package is one import path that has test files, as reported by go list.
type Package struct {
	ImportPath string
	Dir        Path
}

// BuildArtifact is a compiled, instrumented test binary. A new build
// supersedes an artifact; it is never mutated. Dir is the package source
// directory, which the binary uses as its working directory.
type BuildArtifact struct {
	Package     string
	Dir         Path
	Path        Path
	Fingerprint Fingerprint
}

// BinaryName returns the file name used for the test binary of pkg. The
// readable slug is not unique on its own ("a/b" and "a_b" share it), so a
// short hash of the import path keeps names distinct.
func BinaryName(pkg string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ".", "_", ":", "_")
	slug := strings.Trim(replacer.Replace(pkg), "_")

	if slug == "" {
		slug = "main"
	}

	sum := sha256.Sum256([]byte(pkg))

	return slug + "-" + hex.EncodeToString(sum[:])[:binaryHashLen] + ".test"
}

// BinaryPath returns where the test binary of pkg is written.
func (c BuildConfig) BinaryPath(pkg string) Path {
	return Path(filepath.Join(string(c.OutDir), BinaryName(pkg)))
}
