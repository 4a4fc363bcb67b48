//go:build integration

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/onnwee/lostfound/internal/db/dbtest"
)

func TestPostgresRepository_Integration(t *testing.T) {
	conn := dbtest.Postgres(t)
	ctx := context.Background()
	repo := NewPostgresRepository(conn)

	first, err := repo.Record(ctx, promote("p-1"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.PreviousHash != "" {
		t.Errorf("first entry should start the chain, got %q", first.PreviousHash)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Record(ctx, LogEntry{
				Actor: "ops", EntityType: EntityExperiment, EntityID: "e-1",
				Action: ActionStartExperiment, Outcome: OutcomeFailure, Status: 409,
				RequestID: "req-1",
			}); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	chain, err := repo.Chain(ctx)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 9 {
		t.Fatalf("chain length = %d, want 9", len(chain))
	}
	if err := Verify(chain); err != nil {
		t.Errorf("concurrent appends broke the chain: %v", err)
	}

	got, err := repo.Query(ctx, Filter{EntityType: EntityExperiment, EntityID: "e-1"}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 || got[0].RequestID != "req-1" || got[0].Status != 409 {
		t.Errorf("Query returned %+v", got)
	}

	if _, err := conn.ExecContext(ctx, `UPDATE audit_log SET actor = 'mallory' WHERE id = $1`, first.ID); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	chain, _ = repo.Chain(ctx)
	if err := Verify(chain); !errors.Is(err, ErrChainBroken) {
		t.Errorf("Verify after tampering = %v, want ErrChainBroken", err)
	}
}
