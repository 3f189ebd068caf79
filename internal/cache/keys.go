package cache

import "github.com/sawpanic/signalcache/internal/models"

// KeyKind discriminates the three entry families held by the store.
type KeyKind string

const (
	KindList      KeyKind = "list"
	KindDetail    KeyKind = "detail"
	KindAggregate KeyKind = "aggregate"
)

// Key addresses exactly one store entry: a list result by fingerprint, a
// detail record by signal identity, or the analytics aggregate.
type Key struct {
	Kind        KeyKind
	Fingerprint models.Fingerprint
	SignalID    string
}

func ListKey(fp models.Fingerprint) Key {
	return Key{Kind: KindList, Fingerprint: fp}
}

func DetailKey(id string) Key {
	return Key{Kind: KindDetail, SignalID: id}
}

func AggregateKey() Key {
	return Key{Kind: KindAggregate}
}
