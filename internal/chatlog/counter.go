package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
)

// Counter tracks how many messages a chat has received. Values survive
// process restarts.
type Counter interface {
	Incr(ctx context.Context, chatID string) (int64, error)
	Get(ctx context.Context, chatID string) (int64, error)
}

// txCounter is implemented by counters that can join the transaction that
// inserts the message.
type txCounter interface {
	incrTx(ctx context.Context, tx *sql.Tx, chatID string, now time.Time) (int64, error)
}

// SQLiteCounter keeps counts in the chat_counters table.
type SQLiteCounter struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLiteCounter creates a SQLiteCounter.
func NewSQLiteCounter(database *db.DB) *SQLiteCounter {
	return &SQLiteCounter{db: database, now: time.Now}
}

func (c *SQLiteCounter) Incr(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = c.incrTx(ctx, tx, chatID, c.now())
		return err
	})
	return n, err
}

func (c *SQLiteCounter) incrTx(ctx context.Context, tx *sql.Tx, chatID string, now time.Time) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO chat_counters (chat_id, message_count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
		    message_count = message_count + 1,
		    updated_at    = excluded.updated_at
		RETURNING message_count`,
		chatID, db.FormatTime(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counter: incr %s: %w", chatID, err)
	}
	return n, nil
}

func (c *SQLiteCounter) Get(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := c.db.Conn().QueryRowContext(ctx,
		`SELECT message_count FROM chat_counters WHERE chat_id = ?`, chatID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter: get %s: %w", chatID, err)
	}
	return n, nil
}

// RedisCounter keeps counts in Redis so several service instances share them.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to addr and verifies the connection.
func NewRedisCounter(ctx context.Context, addr, password string, database int) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("counter: redis ping %s: %w", addr, err)
	}
	return &RedisCounter{client: client}, nil
}

func counterKey(chatID string) string {
	return "charmem:chat:" + chatID + ":messages"
}

func (c *RedisCounter) Incr(ctx context.Context, chatID string) (int64, error) {
	n, err := c.client.Incr(ctx, counterKey(chatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counter: redis incr %s: %w", chatID, err)
	}
	return n, nil
}

func (c *RedisCounter) Get(ctx context.Context, chatID string) (int64, error) {
	n, err := c.client.Get(ctx, counterKey(chatID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter: redis get %s: %w", chatID, err)
	}
	return n, nil
}

// Close closes the Redis client.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}
