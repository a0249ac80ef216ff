package memory

import (
	"context"
	"testing"

	"github.com/FTacke/hispanistica-games-sub000/internal/backend/local"
	"github.com/FTacke/hispanistica-games-sub000/internal/domain"
)

func TestRunStoreLifecycle(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	key := "u1:demo"

	if _, ok, err := store.Load(ctx, key); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	snap := local.RunSnapshot{
		State: domain.RunState{RunID: "r1", TopicID: "demo", CurrentIndex: 3},
		Outcomes: map[int]domain.AnswerOutcome{
			0: {QuestionIndex: 0, Result: domain.ResultCorrect},
		},
	}
	if err := store.Save(ctx, key, snap); err != nil {
		t.Fatal(err)
	}

	loaded, ok, err := store.Load(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected saved run, got ok=%v err=%v", ok, err)
	}
	if loaded.State.RunID != "r1" || loaded.State.CurrentIndex != 3 {
		t.Fatalf("loaded state mangled: %+v", loaded.State)
	}
	if loaded.Outcomes[0].Result != domain.ResultCorrect {
		t.Fatalf("loaded outcomes mangled: %+v", loaded.Outcomes)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Load(ctx, key); ok {
		t.Fatal("deleted run still present")
	}
}

func TestRunStoreIsolatesKeys(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	if err := store.Save(ctx, "u1:demo", local.RunSnapshot{State: domain.RunState{RunID: "r1"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "u2:demo", local.RunSnapshot{State: domain.RunState{RunID: "r2"}}); err != nil {
		t.Fatal(err)
	}

	a, _, _ := store.Load(ctx, "u1:demo")
	b, _, _ := store.Load(ctx, "u2:demo")
	if a.State.RunID != "r1" || b.State.RunID != "r2" {
		t.Fatalf("cross-key contamination: %s / %s", a.State.RunID, b.State.RunID)
	}
}
