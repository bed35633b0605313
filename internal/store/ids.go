package store

import "math/rand/v2"

// MaxID bounds generated ids to [1, MaxID).
const MaxID = 1_000_000_000

// IDSource yields candidate ids. Candidates are resampled until one is free.
type IDSource func() int64

func RandomIDs() IDSource {
	return func() int64 { return rand.Int64N(MaxID) }
}

// nextID draws from src until it finds a non-zero id that taken rejects.
func nextID(src IDSource, taken func(int64) bool) int64 {
	for {
		id := src()
		if id != 0 && !taken(id) {
			return id
		}
	}
}
