// Package session resolves a session id to the logged-in user and the home
// they are currently working in. Sessions live in Redis hashes written by the
// login flow; this package only reads them, apart from helpers used by tests
// and the CLI.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "session:"

	CookieName = "tickler_session"
	HeaderName = "X-Session-ID"
)

var (
	ErrNoSession    = errors.New("session not found")
	ErrNoActiveHome = errors.New("session has no active home")
)

// Session is the subset of session state the scheduling engine needs.
type Session struct {
	ID           string
	UserID       int64
	ActiveHomeID int64
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(redisAddr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, ttl: ttl}, nil
}

// IDFromRequest returns the session id carried by the cookie, falling back
// to the header used by non-browser clients.
func IDFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}

	return r.Header.Get(HeaderName)
}

func key(id string) string {
	return keyPrefix + id
}

// Lookup loads a session. A missing hash or a hash without a user id is
// ErrNoSession; a session without an active home is returned together with
// ErrNoActiveHome so callers can still identify the user.
func (s *Store) Lookup(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}

	fields, err := s.client.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		return nil, ErrNoSession
	}

	sess := &Session{ID: id, UserID: userID}

	homeID, err := strconv.ParseInt(fields["active_home_id"], 10, 64)
	if err != nil || homeID <= 0 {
		return sess, ErrNoActiveHome
	}
	sess.ActiveHomeID = homeID

	if s.ttl > 0 {
		s.client.Expire(ctx, key(id), s.ttl)
	}

	return sess, nil
}

// Save writes a session hash, replacing any previous state for the id.
func (s *Store) Save(ctx context.Context, sess Session) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key(sess.ID))
	pipe.HSet(ctx, key(sess.ID),
		"user_id", sess.UserID,
		"active_home_id", sess.ActiveHomeID,
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key(sess.ID), s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, key(id)).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
