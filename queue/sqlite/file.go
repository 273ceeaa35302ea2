package sqlite

import (
	"errors"
	"sync"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
)

// file is the database and lock of one queue file, shared by every Sqlite
// opened on it in this process.
type file struct {
	path string
	db   *sqlx.DB
	lock *flock.Flock

	// mu serializes writes so ids are handed out in commit order
	mu sync.RWMutex

	// guarded by files
	refs int
}

// files holds the open queue files by absolute path.
var files = struct {
	sync.Mutex
	byPath map[string]*file
}{byPath: make(map[string]*file)}

// release drops one reference and closes the file when none are left.
func (f *file) release() error {
	files.Lock()
	defer files.Unlock()

	f.refs--
	if f.refs > 0 {
		return nil
	}
	delete(files.byPath, f.path)

	f.mu.Lock()
	defer f.mu.Unlock()

	return errors.Join(f.db.Close(), f.lock.Unlock())
}
