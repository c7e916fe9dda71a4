package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptStub answers EVALSHA/EVAL calls with a canned reply.
type scriptStub struct {
	redis.Scripter
	reply interface{}
	err   error
	keys  []string
	args  []interface{}
}

func (s *scriptStub) result(ctx context.Context, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = keys
	s.args = args
	cmd := redis.NewCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
	} else {
		cmd.SetVal(s.reply)
	}
	return cmd
}

func (s *scriptStub) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return s.result(ctx, keys, args...)
}

func (s *scriptStub) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return s.result(ctx, keys, args...)
}

func TestRateLimiterAllow(t *testing.T) {
	stub := &scriptStub{reply: []interface{}{int64(1), int64(9)}}
	rl := NewRateLimiter(stub)
	rl.now = func() time.Time { return time.UnixMicro(1_700_000_000_000_000) }

	ok, err := rl.Allow(context.Background(), "binance", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ratelimit:binance"}, stub.keys)
	require.Len(t, stub.args, 4)
	assert.Equal(t, int64(1_700_000_000_000_000), stub.args[0])
	assert.Equal(t, time.Minute.Microseconds(), stub.args[1])
	assert.Equal(t, 10, stub.args[2])
}

func TestRateLimiterDenied(t *testing.T) {
	rl := NewRateLimiter(&scriptStub{reply: []interface{}{int64(0), int64(0)}})

	ok, err := rl.Allow(context.Background(), "binance", 1, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimiterError(t *testing.T) {
	rl := NewRateLimiter(&scriptStub{err: errors.New("connection refused")})

	ok, err := rl.Allow(context.Background(), "binance", 1, time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedisClientDisabledWithoutAddr(t *testing.T) {
	rdb, err := NewRedisClient(context.Background(), Config{})
	assert.NoError(t, err)
	assert.Nil(t, rdb)
}
