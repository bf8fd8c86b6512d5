// Package registry stores the installation's document records. The
// subscription engine consumes the Store interface only; the SQLite
// implementation backs the real host process.
package registry

import "time"

// Document is one stored document's registry entry.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SizeMB    float64   `json:"size_mb"`
	CreatedAt time.Time `json:"created_at"`
}

// Store lists and hard-deletes documents. List returns documents ordered by
// creation time ascending; Delete is permanent.
type Store interface {
	List() ([]Document, error)
	Delete(ids []string) error
}
