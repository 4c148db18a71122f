package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrArtifact marks a failure while producing or uploading the export
// artifact. It is never raised to a caller synchronously; it is captured
// into the job record and observed via polling.
var ErrArtifact = errors.New("artifact store failure")

// ArtifactStore receives generated export output and returns a retrievable
// URL. Production deployments point this at a blob endpoint; the filesystem
// implementation below serves local and test use.
type ArtifactStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (url string, err error)
}

// FSArtifactStore writes artifacts into a directory and returns URLs under a
// configured prefix.
type FSArtifactStore struct {
	dir       string
	urlPrefix string
}

// NewFSArtifactStore constructs a filesystem artifact store rooted at dir.
func NewFSArtifactStore(dir, urlPrefix string) *FSArtifactStore {
	return &FSArtifactStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

func (s *FSArtifactStore) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create artifact dir: %v", ErrArtifact, err)
	}
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrArtifact, name, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: write %s: %v", ErrArtifact, name, err)
	}
	return s.urlPrefix + "/" + name, nil
}
