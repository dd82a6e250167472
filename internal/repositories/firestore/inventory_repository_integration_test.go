//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	pconfig "github.com/oakline-commerce/api/internal/platform/config"
	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/repositories"
)

func TestInventoryRepositoryIntegration(t *testing.T) {
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
		ProjectID:    "inventory-test",
		EmulatorHost: endpoint,
	}
	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	repo, err := NewInventoryRepository(provider, nil)
	if err != nil {
		t.Fatalf("NewInventoryRepository: %v", err)
	}

	ctx := context.Background()

	if err := repo.Upsert(ctx, domain.VariantStock{ItemID: "book-1", VariantKey: "hardcover", Available: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stock, err := repo.Reserve(ctx, "book-1", "hardcover", 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if stock.Available != 2 {
		t.Fatalf("expected available=2 got %d", stock.Available)
	}

	_, err = repo.Reserve(ctx, "book-1", "hardcover", 3)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if invErr.Short != 1 {
		t.Fatalf("expected shortfall 1, got %d", invErr.Short)
	}

	_, err = repo.Reserve(ctx, "book-1", "paperback", 1)
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorStockNotFound {
		t.Fatalf("expected stock not found, got %v", err)
	}

	stock, err = repo.Release(ctx, "book-1", "hardcover", 3)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if stock.Available != 5 {
		t.Fatalf("expected available=5 after release, got %d", stock.Available)
	}

	// Concurrent reservations must never oversell the 5 units.
	var wg sync.WaitGroup
	granted := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Reserve(ctx, "book-1", "hardcover", 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != 5 {
		t.Fatalf("expected exactly 5 granted reservations, got %d", count)
	}
	stock, err = repo.Get(ctx, "book-1", "hardcover")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stock.Available != 0 {
		t.Fatalf("expected ledger drained to 0, got %d", stock.Available)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
