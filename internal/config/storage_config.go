package config

const redisURLVar = "REDIS_URL"

type StorageConfig interface {
	// GetRedisURL returns "" when storage and broadcast should stay in memory.
	GetRedisURL() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetRedisURL() string {
	return GetEnv(redisURLVar, "")
}
