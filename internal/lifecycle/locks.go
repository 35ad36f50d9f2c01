package lifecycle

import "sync"

// documentLocks serializes lifecycle operations per document. The store's
// unique (document, workflow) constraint is the durable guard; the mutex
// keeps concurrent requests on one document from doing redundant work.
type documentLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[string]*docLock)}
}

// Lock acquires the lock for a document and returns its unlock function.
func (d *documentLocks) Lock(documentID string) func() {
	d.mu.Lock()
	l, ok := d.locks[documentID]
	if !ok {
		l = &docLock{}
		d.locks[documentID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, documentID)
		}
		d.mu.Unlock()
	}
}
