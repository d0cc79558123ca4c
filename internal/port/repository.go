package port

import (
	"github.com/vertextoedge/http-ytproxy/internal/domain/repository"
)

// JournalRepository is an alias to domain repository interface
type JournalRepository = repository.JournalRepository

// Store is an alias to domain repository interface
type Store = repository.Store
