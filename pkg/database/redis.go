package database

import (
	"context"

	"github.com/go-redis/redis/v8"

	"medichat-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接并做一次连通性检查。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := RDB.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}
