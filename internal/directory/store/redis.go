package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"memberdir/pkg/platform/sentinel"
)

// Redis key prefixes for the email reverse index.
const (
	emailRefKeyPrefix    = "eidx:email:"
	memberEmailKeyPrefix = "eidx:member:"
)

// RedisEmailIndex is a Redis-backed EmailIndex. Each email maps to its
// EmailRef; a per-member set carries the reverse direction for
// EmailsForMember. Recommended for deployments where the school email
// projection is read far more often than members are written.
type RedisEmailIndex struct {
	client *redis.Client
}

// NewRedisEmailIndex constructs a Redis-backed email index.
func NewRedisEmailIndex(client *redis.Client) *RedisEmailIndex {
	return &RedisEmailIndex{client: client}
}

func (s *RedisEmailIndex) Put(ctx context.Context, email string, ref EmailRef) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	payload, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	// If the email was previously mapped to another member, the old reverse
	// entry must go, or EmailsForMember would resurrect it.
	if old, err := s.Lookup(ctx, email); err == nil && old.MemberID != ref.MemberID {
		if err := s.client.SRem(ctx, memberEmailKeyPrefix+old.MemberID, email).Err(); err != nil {
			return err
		}
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, emailRefKeyPrefix+email, payload, 0)
	if ref.MemberID != "" {
		pipe.SAdd(ctx, memberEmailKeyPrefix+ref.MemberID, email)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisEmailIndex) Lookup(ctx context.Context, email string) (*EmailRef, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	payload, err := s.client.Get(ctx, emailRefKeyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ref EmailRef
	if err := json.Unmarshal([]byte(payload), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *RedisEmailIndex) Remove(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	ref, err := s.Lookup(ctx, email)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, emailRefKeyPrefix+email)
	if ref.MemberID != "" {
		pipe.SRem(ctx, memberEmailKeyPrefix+ref.MemberID, email)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisEmailIndex) EmailsForMember(ctx context.Context, memberID string) ([]string, error) {
	emails, err := s.client.SMembers(ctx, memberEmailKeyPrefix+memberID).Result()
	if err != nil {
		return nil, err
	}
	// Sets do not preserve insertion order; sort for a stable projection.
	sort.Strings(emails)
	return emails, nil
}
