package specconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

// ConfigSource abstracts over where the configuration document tree
// lives. Both variants must reject any path that escapes their root.
type ConfigSource interface {
	Read(path string) ([]byte, error)
}

// DirConfigSource reads documents from a filesystem directory.
type DirConfigSource struct {
	Root string
}

// NewDirConfigSource builds a DirConfigSource rooted at root.
func NewDirConfigSource(root string) *DirConfigSource {
	return &DirConfigSource{Root: root}
}

// Read loads the file at path, relative to the source's root,
// rejecting any path that escapes it.
func (d *DirConfigSource) Read(path string) ([]byte, error) {
	full, err := resolveWithinRoot(d.Root, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "path="+path, err)
	}
	return data, nil
}

// EmbedConfigSource reads documents from an in-memory map, for
// embedded-resource-style configuration roots.
type EmbedConfigSource struct {
	Files map[string][]byte
}

// NewEmbedConfigSource builds an EmbedConfigSource over files.
func NewEmbedConfigSource(files map[string][]byte) *EmbedConfigSource {
	return &EmbedConfigSource{Files: files}
}

// Read loads the named document, rejecting any path that escapes the
// (virtual) root via traversal segments.
func (e *EmbedConfigSource) Read(path string) ([]byte, error) {
	clean, err := cleanRelative(path)
	if err != nil {
		return nil, err
	}
	data, ok := e.Files[clean]
	if !ok {
		return nil, cherr.New(cherr.KindConfiguration, "embedded config %q not found", clean)
	}
	return data, nil
}

// cleanRelative normalizes path and rejects any result that escapes
// the root (".." segments, absolute paths).
func cleanRelative(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", cherr.New(cherr.KindConfiguration, "path %q escapes configuration root", path)
	}
	return clean, nil
}

// resolveWithinRoot joins root and path, then verifies the result is
// still lexically within root.
func resolveWithinRoot(root, path string) (string, error) {
	clean, err := cleanRelative(path)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, clean)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", cherr.Wrap(cherr.KindConfiguration, "root="+root, err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", cherr.Wrap(cherr.KindConfiguration, "path="+path, err)
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		return "", cherr.New(cherr.KindConfiguration, "path %q escapes configuration root", path)
	}
	return full, nil
}
