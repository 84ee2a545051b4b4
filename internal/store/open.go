package store

import (
	"log"

	"refgate-bot/internal/config"
)

// Open connects the configured driver. A database that cannot be reached at
// startup degrades to the flat-file store with a logged warning rather than
// refusing to boot.
func Open(cfg *config.Config) Store {
	switch cfg.StorageDriver {
	case "postgres":
		s, err := ConnectPostgres(cfg)
		if err == nil {
			return s
		}
		log.Printf("Postgres unavailable, falling back to file storage: %v", err)
	case "mongo":
		s, err := ConnectMongo(cfg.MongoURL)
		if err == nil {
			return s
		}
		log.Printf("MongoDB unavailable, falling back to file storage: %v", err)
	case "file":
		// configured fallback
	default:
		log.Printf("Unknown storage driver %q, using file storage", cfg.StorageDriver)
	}

	s, err := NewFile("data")
	if err != nil {
		log.Fatalf("Could not initialize file storage: %v", err)
	}
	return s
}
