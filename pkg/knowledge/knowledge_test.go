package knowledge

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/logging"
)

func TestObjectionIndexMatches(t *testing.T) {
	ix := NewObjectionIndex(nil)
	out, err := ix.Retrieve(context.Background(), "honestly we already use ServiceNow", dialogue.PhaseDiscovery)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !strings.Contains(out, "Objection: We already use ServiceNow/Jira/Freshservice") {
		t.Fatalf("unexpected guide %q", out)
	}
	if !strings.Contains(out, "Follow-up:") {
		t.Fatalf("expected follow-up line")
	}
}

func TestObjectionIndexNoMatch(t *testing.T) {
	out, _ := NewObjectionIndex(nil).Retrieve(context.Background(), "we are a team of twelve", dialogue.PhasePitch)
	if out != "" {
		t.Fatalf("expected no match, got %q", out)
	}
}

func TestChainSkipsFailuresAndEmpty(t *testing.T) {
	failing := dialogue.RetrieverFunc(func(context.Context, string, dialogue.Phase) (string, error) {
		return "", errors.New("db down")
	})
	empty := dialogue.RetrieverFunc(func(context.Context, string, dialogue.Phase) (string, error) {
		return "  ", nil
	})
	found := dialogue.RetrieverFunc(func(context.Context, string, dialogue.Phase) (string, error) {
		return "fact", nil
	})
	chain := NewChain(logging.Discard(), failing, nil, empty, found)
	out, err := chain.Retrieve(context.Background(), "q", dialogue.PhasePitch)
	if err != nil || out != "fact" {
		t.Fatalf("expected fact, got %q err=%v", out, err)
	}
}

func TestPostgresRetriever(t *testing.T) {
	dsn := os.Getenv("CALLBRIDGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CALLBRIDGE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := NewPostgresRetriever(pool, 2)
	out, err := r.Retrieve(ctx, "deflect password resets", dialogue.PhasePitch)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !strings.Contains(out, "deflect") {
		t.Fatalf("expected seeded snippet, got %q", out)
	}
}
