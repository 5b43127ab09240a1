package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix 缓存键的实例级命名空间
// 问答缓存可能与后台任务队列共用一个Redis，清空操作不能波及其他数据
const redisKeyPrefix = "qacache:"

// RedisCache 基于Redis实现的缓存
// 多实例部署时各实例共享同一份问答结果
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCache 创建一个新的Redis缓存
func NewRedisCache(config Config) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client: client,
		ctx:    ctx,
	}, nil
}

// Get 获取缓存内容
func (r *RedisCache) Get(key string) (string, bool, error) {
	value, err := r.client.Get(r.ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set 设置缓存内容
func (r *RedisCache) Set(key string, value string, ttl time.Duration) error {
	return r.client.Set(r.ctx, redisKeyPrefix+key, value, ttl).Err()
}

// Delete 删除缓存项
func (r *RedisCache) Delete(key string) error {
	return r.client.Del(r.ctx, redisKeyPrefix+key).Err()
}

// DeleteByPrefix 删除指定前缀下的全部缓存项
// 用SCAN增量遍历，不阻塞共享的Redis实例
func (r *RedisCache) DeleteByPrefix(prefix string) error {
	return r.deleteByPattern(redisKeyPrefix + prefix + "*")
}

// Clear 清空本实例命名空间下的所有缓存
// 不使用FlushDB，避免误删同库中任务队列的数据
func (r *RedisCache) Clear() error {
	return r.deleteByPattern(redisKeyPrefix + "*")
}

func (r *RedisCache) deleteByPattern(pattern string) error {
	iter := r.client.Scan(r.ctx, 0, pattern, 100).Iterator()
	for iter.Next(r.ctx) {
		if err := r.client.Del(r.ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// 在包初始化时注册Redis缓存
func init() {
	RegisterCache("redis", NewRedisCache)
}
