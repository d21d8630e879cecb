package knowledge

import "github.com/moby/locker"

// documentLocks serializes the writers of one document's chunk set: DeleteDocument
// and the embedder storing vectors. A freshly ingested document has no other writer.
var documentLocks = locker.New()

// lockDocument holds the document's lock until the returned func is called.
func lockDocument(documentID string) (unlock func()) {
	documentLocks.Lock(documentID)
	return func() { documentLocks.Unlock(documentID) } //nolint:errcheck
}
