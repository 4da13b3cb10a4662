/**
 * Redis dictionary store
 *
 * Word lists live in two Redis sets per language. Recognition never talks
 * to Redis mid-pass: Load copies the sets into a WordList up front.
 */

package dictionary

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
)

const (
	defaultKeyPrefix = "ocrcore:dict"
	scanBatch        = 1000
)

// RedisConfig holds Redis store configuration
type RedisConfig struct {
	RedisURL  string
	KeyPrefix string
	Logger    *logging.Logger
}

// RedisStore persists word lists in Redis sets.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *logging.Logger
}

// NewRedisStore connects to Redis
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("dictionary")
	}
	return &RedisStore{client: client, prefix: prefix, log: log}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) wordsKey(lang string) string   { return s.prefix + ":" + lang + ":words" }
func (s *RedisStore) bigramsKey(lang string) string { return s.prefix + ":" + lang + ":bigrams" }

// Load copies lang's sets into a WordList. A language with no sets loads as
// an empty list.
func (s *RedisStore) Load(ctx context.Context, lang string) (*WordList, error) {
	d := NewWordList()
	if err := s.scan(ctx, s.wordsKey(lang), d.Add); err != nil {
		return nil, err
	}
	err := s.scan(ctx, s.bigramsKey(lang), func(member string) {
		if a, b, ok := strings.Cut(member, bigramSep); ok {
			d.AddBigram(a, b)
		}
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Dictionary loaded", "language", lang, "words", d.Len(), "bigrams", len(d.bigrams))
	return d, nil
}

func (s *RedisStore) scan(ctx context.Context, key string, add func(string)) error {
	var cursor uint64
	for {
		members, next, err := s.client.SScan(ctx, key, cursor, "", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", key, err)
		}
		for _, m := range members {
			add(m)
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Store adds every word and bigram of d to lang's sets. With replace set the
// existing sets are dropped first. It returns the number of new members.
func (s *RedisStore) Store(ctx context.Context, lang string, d *WordList, replace bool) (int64, error) {
	wordsKey, bigramsKey := s.wordsKey(lang), s.bigramsKey(lang)

	pipe := s.client.TxPipeline()
	if replace {
		pipe.Del(ctx, wordsKey, bigramsKey)
	}
	var adds []*redis.IntCmd
	words := d.Words()
	for i := 0; i < len(words); i += scanBatch {
		batch := words[i:min(i+scanBatch, len(words))]
		adds = append(adds, pipe.SAdd(ctx, wordsKey, toMembers(batch)...))
	}
	bigrams := d.Bigrams()
	members := make([]string, len(bigrams))
	for i, pair := range bigrams {
		members[i] = pair[0] + bigramSep + pair[1]
	}
	for i := 0; i < len(members); i += scanBatch {
		batch := members[i:min(i+scanBatch, len(members))]
		adds = append(adds, pipe.SAdd(ctx, bigramsKey, toMembers(batch)...))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to store dictionary for %s: %w", lang, err)
	}

	var added int64
	for _, cmd := range adds {
		added += cmd.Val()
	}
	s.log.Info("Dictionary stored",
		"language", lang,
		"words", len(words),
		"bigrams", len(bigrams),
		"added", added,
		"replaced", replace)
	return added, nil
}

func toMembers(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
