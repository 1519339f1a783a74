package changelog

import (
	"path"
	"strings"
)

// Role tells what part a changelog file plays in the catalog.
type Role string

const (
	RoleSnapshotSchema   Role = "snapshot-schema"
	RoleSnapshotCoreData Role = "snapshot-core-data"
	RoleUpdate           Role = "update"
)

// File is a resolvable changelog path in the catalog.
type File struct {
	Path    string
	Version string
	Role    Role
}

// ChangeSet is one atomic migration step declared in a changelog.
type ChangeSet struct {
	ID          string
	Author      string
	FilePath    string
	Context     string
	Labels      string
	DBMS        string
	RunAlways   bool
	RunOnChange bool
}

// Key identifies a changeset in the migration ledger.
func (c ChangeSet) Key() Key {
	return Key{ID: c.ID, Author: c.Author, FilePath: NormalizePath(c.FilePath)}
}

func (c ChangeSet) String() string {
	return NormalizePath(c.FilePath) + "::" + c.ID + "::" + c.Author
}

// Key is the (id, author, file) triple recorded by the ledger.
type Key struct {
	ID       string
	Author   string
	FilePath string
}

// NormalizePath strips classpath prefixes and leading slashes so that paths
// recorded by different runners compare equal.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "classpath:")
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// Document is a parsed changelog with its includes flattened in order.
type Document struct {
	Path       string
	ChangeSets []ChangeSet
}
