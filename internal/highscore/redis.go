package highscore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// putIfHigher sets KEYS[1] to ARGV[1] only when it is greater than the
// current decimal value, atomically.
var putIfHigher = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0") or 0
local score = tonumber(ARGV[1])
if score > current then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore keeps high scores as decimal strings under Mode.Key().
type RedisStore struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, logger logrus.FieldLogger) (*RedisStore, error) {
	log := logger.WithField("component", "highscore")
	log.Infof("Connecting to Redis at %s...", cfg.Address)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Successfully connected to Redis")

	return &RedisStore{client: client, prefix: cfg.KeyPrefix, log: log}, nil
}

func (s *RedisStore) key(mode Mode) string {
	return s.prefix + mode.Key()
}

func (s *RedisStore) Get(ctx context.Context, mode Mode) (int, error) {
	val, err := s.client.Get(ctx, s.key(mode)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting high score for %s: %w", mode, err)
	}

	score, err := strconv.Atoi(val)
	if err != nil {
		s.log.WithField("key", s.key(mode)).Warnf("Ignoring non-numeric high score %q", val)
		return 0, nil
	}
	return score, nil
}

func (s *RedisStore) Put(ctx context.Context, mode Mode, score int) (bool, error) {
	if score <= 0 {
		return false, nil
	}

	updated, err := putIfHigher.Run(ctx, s.client, []string{s.key(mode)}, strconv.Itoa(score)).Int()
	if err != nil {
		return false, fmt.Errorf("storing high score for %s: %w", mode, err)
	}
	if updated == 1 {
		s.log.WithFields(logrus.Fields{"mode": mode, "score": score}).Debug("Stored new high score")
	}
	return updated == 1, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
