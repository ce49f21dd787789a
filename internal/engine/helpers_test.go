package engine_test

import (
	"syncservice/internal/database"
	"syncservice/internal/engine"
)

func asStorage(stores []*database.SQLStore) []engine.Storage {
	return database.AsStorage(stores)
}
