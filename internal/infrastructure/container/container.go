package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"sigex/internal/application/port"
	"sigex/internal/infrastructure/config"
	"sigex/internal/infrastructure/storage/postgres"
	redissink "sigex/internal/infrastructure/storage/redis"
	sqliterepo "sigex/internal/infrastructure/storage/sqlite"
	"sigex/internal/infrastructure/venue"
)

// Container 持有所有基础设施依赖：存储、事件下游、交易所适配器。
type Container struct {
	cfg         *config.Config
	repo        port.Repository
	redisClient *redis.Client
	sink        port.EventSink
	venues      *venue.Registry
	closeOnce   sync.Once
	closerChain []func() error
}

// New 按配置初始化全部基础设施，任一步失败则回收已建立的资源。
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	if err := c.initStorage(); err != nil {
		_ = c.Close()
		return nil, err
	}
	if cfg.Redis.Enabled {
		if err := c.initRedis(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
	}

	venues, err := venue.NewRegistry(cfg.Venues)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.venues = venues

	return c, nil
}

// initStorage 按 storage.driver 打开仓储。
func (c *Container) initStorage() error {
	switch c.cfg.Storage.Driver {
	case "sqlite":
		repo, err := sqliterepo.New(c.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		c.repo = repo
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", c.cfg.Storage.Path).Msg("sqlite initialized")

	case "postgres":
		repo, err := postgres.New(c.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		c.repo = repo
		c.closerChain = append(c.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Msg("postgres initialized")

	default:
		return fmt.Errorf("unknown storage driver %q", c.cfg.Storage.Driver)
	}
	return nil
}

// initRedis 建立事件下游连接。
func (c *Container) initRedis() error {
	rdb := redis.NewClient(&redis.Options{
		Addr: c.cfg.Redis.Addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.sink = redissink.NewSink(rdb, c.cfg.Redis.Prefix)

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().Str("addr", c.cfg.Redis.Addr).Msg("redis initialized")
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Repository 获取仓储
func (c *Container) Repository() port.Repository {
	return c.repo
}

// EventSink 获取执行事件下游，未配置时返回 nil，由调用方决定替代实现。
func (c *Container) EventSink() port.EventSink {
	return c.sink
}

// Venues 获取交易所适配器注册表
func (c *Container) Venues() *venue.Registry {
	return c.venues
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
