// Package kvstore 提供了按字符串键读写的轻量持久化能力。
// 会话层的全部状态（对话列表、病人档案、激活指针）都通过它落盘。
package kvstore

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"medichat-go/pkg/log"
)

// Store 定义了按键读写的最小契约。
// 底层介质故障（配额、连接断开）在实现内部记录日志并按无操作处理，
// 调用方不得假设写入一定成功，必须容忍跨重启的数据丢失。
type Store interface {
	// Get 返回键对应的值。键不存在时第二个返回值为 false，不视为故障。
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Remove(ctx context.Context, key string)
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore 创建一个基于 Redis 的 Store。
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Errorf("kvstore: 读取键 '%s' 失败: %v", key, err)
		return "", false
	}
	return val, true
}

func (s *redisStore) Set(ctx context.Context, key, value string) {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		log.Errorf("kvstore: 写入键 '%s' 失败: %v", key, err)
	}
}

func (s *redisStore) Remove(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Errorf("kvstore: 删除键 '%s' 失败: %v", key, err)
	}
}

// memoryStore 是进程内实现，用于测试和无 Redis 的本地运行。
type memoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore 创建一个进程内的 Store。
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string]string)}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	return val, ok
}

func (s *memoryStore) Set(_ context.Context, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *memoryStore) Remove(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}
