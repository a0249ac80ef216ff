package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

type countingLoader struct {
	calls atomic.Int64
	banks map[string]domain.QuestionBank
}

func (l *countingLoader) LoadBank(_ context.Context, topicID string) (domain.QuestionBank, error) {
	l.calls.Add(1)
	if bank, ok := l.banks[topicID]; ok {
		return bank, nil
	}
	return domain.QuestionBank{}, domain.ErrTopicNotFound
}

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, client := newTestRedis(t)
	loader := &countingLoader{banks: map[string]domain.QuestionBank{
		"demo": {TopicID: "demo", Questions: []domain.Question{{ID: "q00", Prompt: "p"}}},
	}}
	repo := NewQuestionRepository(client, loader, 10*time.Minute)
	ctx := context.Background()

	bank, err := repo.GetBank(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if bank.TopicID != "demo" || len(bank.Questions) != 1 {
		t.Fatalf("unexpected bank %+v", bank)
	}
	if !mr.Exists("quizrun:bank:demo") {
		t.Fatal("bank not cached under the expected key")
	}

	for i := 0; i < 5; i++ {
		if _, err := repo.GetBank(ctx, "demo"); err != nil {
			t.Fatal(err)
		}
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected 1 loader hit, got %d", got)
	}

	// Expiry forces a reload (TTL upper bound is ttl + 10% jitter).
	mr.FastForward(12 * time.Minute)
	if _, err := repo.GetBank(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after expiry, got %d loader hits", got)
	}
}

func TestQuestionRepositoryLoaderErrorsPassThrough(t *testing.T) {
	_, client := newTestRedis(t)
	loader := &countingLoader{banks: map[string]domain.QuestionBank{}}
	repo := NewQuestionRepository(client, loader, 10*time.Minute)

	if _, err := repo.GetBank(context.Background(), "missing"); !errors.Is(err, domain.ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}
