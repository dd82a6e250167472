//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"testing"
	"time"

	pconfig "github.com/oakline-commerce/api/internal/platform/config"
	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
)

func TestCounterRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "counter-test",
		EmulatorHost: endpoint,
	}
	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	repo, err := NewCounterRepository(provider, nil)
	if err != nil {
		t.Fatalf("NewCounterRepository: %v", err)
	}

	ctx := context.Background()

	first, err := repo.Next(ctx, "orders-20260314", 1)
	if err != nil {
		t.Fatalf("first next: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first value 1, got %d", first)
	}

	const workers = 8
	values := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			v, err := repo.Next(ctx, "orders-20260314", 1)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			values[slot] = v
		}(i)
	}
	wg.Wait()

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		want := int64(i + 2)
		if v != want {
			t.Fatalf("expected contiguous sequence, slot %d holds %d (want %d)", i, v, want)
		}
	}

	// Independent counters do not share state.
	other, err := repo.Next(ctx, "orders-20260315", 100)
	if err != nil {
		t.Fatalf("other counter: %v", err)
	}
	if other != 100 {
		t.Fatalf("expected fresh counter to start at its step, got %d", other)
	}
}
