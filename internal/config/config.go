package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	StoreDriver string // "sqlite" or "mongo"
	SQLitePath  string
	MongoURI    string
	MongoDB     string
	LogLevel    string
}

// Load reads configuration from the environment, with .env as a convenience
// for local development. Every value has a default that boots standalone.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:        getenv("ADDR", ":8080"),
		StoreDriver: getenv("STORE_DRIVER", "sqlite"),
		SQLitePath:  getenv("SQLITE_PATH", "./data/sessions.db"),
		MongoURI:    getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getenv("MONGO_DB", "smartbridge"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
