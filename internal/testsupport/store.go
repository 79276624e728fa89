package testsupport

import (
	"context"
	"testing"

	"cropwatch/internal/config"
	"cropwatch/internal/state"
)

// MustOpenStore opens the store selected by cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) state.Store {
	t.Helper()

	store, err := state.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
