package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisConnection definition redis setting
type RedisConnection struct {
	// Addr is used when no sentinel is configured
	Addr          string
	MasterName    string
	SentinelAddrs []string
	Password      string
	DB            int
}

// NewRedisClient init redis connection, sentinel failover when SentinelAddrs is set
func NewRedisClient(ctx context.Context, c RedisConnection) (*redis.Client, error) {
	var rdb *redis.Client
	if len(c.SentinelAddrs) > 0 {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.MasterName,    // 哨兵主节点名称
			SentinelAddrs: c.SentinelAddrs, // 哨兵地址列表
			Password:      c.Password,
			DB:            c.DB,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}
