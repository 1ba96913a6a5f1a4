package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a call record survives in Redis.
const DefaultTTL = time.Hour

// RedisStore keeps call records as JSON values and transcripts as lists, so the
// call-initiation process and the bridge can run on different hosts.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	Prefix string
	TTL    time.Duration
}

func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "callbridge"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &RedisStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

func (s *RedisStore) recordKey(id string) string     { return s.prefix + ":call:" + id }
func (s *RedisStore) transcriptKey(id string) string { return s.prefix + ":transcript:" + id }
func (s *RedisStore) sidKey(sid string) string       { return s.prefix + ":sid:" + sid }

func (s *RedisStore) Register(ctx context.Context, rec Record) error {
	if rec.CallID == "" {
		return errors.New("call id required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.CallID), payload, s.ttl)
	if rec.CallSID != "" {
		pipe.Set(ctx, s.sidKey(rec.CallSID), rec.CallID, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Lookup(ctx context.Context, callID string) (Record, bool, error) {
	id, err := s.resolve(ctx, callID)
	if err != nil {
		return Record{}, false, err
	}
	raw, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode call record %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *RedisStore) AppendTranscript(ctx context.Context, callID string, u Utterance) error {
	id, err := s.resolve(ctx, callID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	key := s.transcriptKey(id)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Transcript(ctx context.Context, callID string) ([]Utterance, error) {
	id, err := s.resolve(ctx, callID)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, s.transcriptKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Utterance, 0, len(raw))
	for _, item := range raw {
		var u Utterance
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Finalize rewrites the record with the outcome, keeping the remaining TTL semantics simple
// by resetting it.
func (s *RedisStore) Finalize(ctx context.Context, callID string, out Outcome) error {
	rec, ok, err := s.Lookup(ctx, callID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if out.Status != "" {
		rec.Status = out.Status
	}
	if out.Summary != "" {
		rec.Summary = out.Summary
	}
	if !out.EndedAt.IsZero() {
		rec.EndedAt = out.EndedAt
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.recordKey(rec.CallID), payload, s.ttl).Err()
}

func (s *RedisStore) resolve(ctx context.Context, id string) (string, error) {
	mapped, err := s.client.Get(ctx, s.sidKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return mapped, nil
}
