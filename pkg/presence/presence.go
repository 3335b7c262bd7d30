// Package presence keeps the online set and the user-name directory in Redis.
package presence

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/campus-chat/pkg/config"
)

const (
	onlineKey = "presence:online"
	namesKey  = "users:names"
)

type Store struct {
	rdb *redis.Client
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) SetOnline(ctx context.Context, userID int64) error {
	if err := s.rdb.SAdd(ctx, onlineKey, userID).Err(); err != nil {
		return fmt.Errorf("set presence for %d: %w", userID, err)
	}
	return nil
}

func (s *Store) SetOffline(ctx context.Context, userID int64) error {
	if err := s.rdb.SRem(ctx, onlineKey, userID).Err(); err != nil {
		return fmt.Errorf("delete presence for %d: %w", userID, err)
	}
	return nil
}

// Online returns the ids of connected users in ascending order.
func (s *Store) Online(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch presence: %w", err)
	}
	return parseIDs(members), nil
}

func (s *Store) SetName(ctx context.Context, userID int64, name string) error {
	if err := s.rdb.HSet(ctx, namesKey, strconv.FormatInt(userID, 10), name).Err(); err != nil {
		return fmt.Errorf("store name for %d: %w", userID, err)
	}
	return nil
}

// Name looks up a display name. Unknown users get an empty name.
func (s *Store) Name(ctx context.Context, userID int64) (string, error) {
	name, err := s.rdb.HGet(ctx, namesKey, strconv.FormatInt(userID, 10)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup name for %d: %w", userID, err)
	}
	return name, nil
}

func parseIDs(members []string) []int64 {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
