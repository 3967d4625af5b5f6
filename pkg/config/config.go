// Package config loads agentstore settings from the environment, with an
// optional .env file for development setups.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds every environment-tunable knob. Zero values mean "use the
// package default" and are resolved by the consuming component.
type Settings struct {
	VectorDBPath string
	MemoryDBPath string

	PoolSize     int
	ReadReplicas int

	EmbeddingDim int

	ANNEnabled        bool
	ANNM              int
	ANNEfConstruction int
	ANNEfSearch       int

	CacheTTL         time.Duration
	CacheMaxSessions int
}

// Load reads settings from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Settings {
	_ = godotenv.Load()

	return Settings{
		VectorDBPath: getEnv("AGENTSTORE_VECTOR_DB", "agentstore_vectors.db"),
		MemoryDBPath: getEnv("AGENTSTORE_MEMORY_DB", "agentstore_memory.db"),

		PoolSize:     getEnvInt("AGENTSTORE_POOL_SIZE", 5),
		ReadReplicas: getEnvInt("AGENTSTORE_READ_REPLICAS", 2),

		EmbeddingDim: getEnvInt("AGENTSTORE_EMBEDDING_DIM", 1536),

		ANNEnabled:        getEnvBool("AGENTSTORE_ANN_ENABLED", true),
		ANNM:              getEnvInt("AGENTSTORE_ANN_M", 16),
		ANNEfConstruction: getEnvInt("AGENTSTORE_ANN_EF_CONSTRUCTION", 200),
		ANNEfSearch:       getEnvInt("AGENTSTORE_ANN_EF_SEARCH", 50),

		CacheTTL:         getEnvDuration("AGENTSTORE_CACHE_TTL", 30*time.Minute),
		CacheMaxSessions: getEnvInt("AGENTSTORE_CACHE_MAX_SESSIONS", 1024),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
