// Package conffile detects whether a tracked configuration file has
// diverged from the digest recorded at install time.
package conffile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mvossen/opkgo/internal/control"
	"github.com/mvossen/opkgo/internal/digest"
)

// shaDigestLen is the hex length past which a recorded digest is assumed to
// be SHA-256 rather than MD5; an MD5 hex digest is 32 characters.
const shaDigestLen = 33

// Tracker checks conffiles against a filesystem root, so tests can run
// against a staging directory instead of the live system root.
type Tracker struct {
	Root string
}

// New creates a Tracker rooted at root. An empty root checks paths as given.
func New(root string) *Tracker {
	return &Tracker{Root: root}
}

// IsModified reports whether the file named by c.Path has changed since its
// digest was recorded. A missing recorded digest is always reported as
// modified. The digest algorithm is chosen by the recorded value's length,
// matching opkg's conffile_has_been_modified: a value longer than 33
// characters is SHA-256, otherwise MD5.
func (t *Tracker) IsModified(c control.Conffile) (bool, error) {
	if c.Digest == "" {
		return true, nil
	}

	path := c.Path
	if t.Root != "" {
		path = filepath.Join(t.Root, c.Path)
	}

	var (
		sum string
		err error
	)
	if len(c.Digest) > shaDigestLen {
		sum, err = digest.SHA256(path)
	} else {
		sum, err = digest.MD5(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("checksumming conffile %s: %w", c.Path, err)
	}

	return sum != c.Digest, nil
}
