package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
	"github.com/FTacke/hispanistica-games-sub000/internal/infra/memory"
)

// QuestionRepository caches question banks in Redis (one JSON document per
// topic) and falls back to a loader on cache miss.
// Banks are stored as: SET quizrun:bank:{topicID} {json}
type QuestionRepository struct {
	client *redis.Client
	loader memory.BankLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.BankLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetBank(ctx context.Context, topicID string) (domain.QuestionBank, error) {
	key := r.bankKey(topicID)

	if bank, ok := r.fromCache(ctx, key); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(topicID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.fromCache(ctx, key); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, topicID)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		raw, err := json.Marshal(bank)
		if err != nil {
			return domain.QuestionBank{}, err
		}
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()

		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *QuestionRepository) fromCache(ctx context.Context, key string) (domain.QuestionBank, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.QuestionBank{}, false
	}
	var bank domain.QuestionBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return domain.QuestionBank{}, false
	}
	return bank, true
}

func (r *QuestionRepository) bankKey(topicID string) string {
	return "quizrun:bank:" + topicID
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
