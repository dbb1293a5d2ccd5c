//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/Luneo19/luneo-platform-sub030/internal/domain"
	pconfig "github.com/Luneo19/luneo-platform-sub030/internal/platform/config"
	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/jobs"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/ratelimit"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestRegistryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "marketplace-test",
		EmulatorHost: endpoint,
	})
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("concurrent load increments", func(t *testing.T) {
		client, err := provider.Client(ctx)
		if err != nil {
			t.Fatalf("client: %v", err)
		}
		if _, err := client.Collection(partnersCollection).Doc("p-1").Set(ctx, partnerDocument{
			ID:        "p-1",
			Name:      "Atelier",
			Status:    string(domain.PartnerStatusActive),
			KYCStatus: string(domain.KYCStatusVerified),
			MaxVolume: 100,
		}); err != nil {
			t.Fatalf("seed partner: %v", err)
		}

		const workers = 16
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(idx int) {
				defer wg.Done()
				if err := reg.Partners().IncrementLoad(ctx, "p-1", 1); err != nil {
					t.Errorf("increment(%d): %v", idx, err)
				}
			}(i)
		}
		wg.Wait()

		partner, err := reg.Partners().FindByID(ctx, "p-1")
		if err != nil {
			t.Fatalf("find partner: %v", err)
		}
		if partner.CurrentLoad != workers {
			t.Fatalf("expected load %d, got %d", workers, partner.CurrentLoad)
		}

		updated, err := reg.Partners().RecordDelivery(ctx, "p-1", true)
		if err != nil {
			t.Fatalf("record delivery: %v", err)
		}
		if updated.TotalOrders != 1 || updated.OnTimeDeliveryRate != 1 {
			t.Fatalf("unexpected stats %+v", updated)
		}
	})

	t.Run("one fulfillment per pipeline", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		first := domain.Fulfillment{ID: "f-1", PipelineID: "pl-1", OrderID: "o-1", BrandID: "b-1", Status: domain.FulfillmentStatusPending, CreatedAt: now, UpdatedAt: now}
		if err := reg.Fulfillments().Insert(ctx, first); err != nil {
			t.Fatalf("insert first: %v", err)
		}
		second := first
		second.ID = "f-2"
		err := reg.Fulfillments().Insert(ctx, second)
		if !pfirestore.IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("work order settled by one live payout", func(t *testing.T) {
		now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		first := domain.Payout{ID: "po-1", PartnerID: "p-1", WorkOrderIDs: []string{"wo-1", "wo-2"}, Status: domain.PayoutStatusPending, CreatedAt: now, UpdatedAt: now}
		if err := reg.Payouts().Insert(ctx, first); err != nil {
			t.Fatalf("insert first: %v", err)
		}
		overlapping := first
		overlapping.ID = "po-2"
		overlapping.WorkOrderIDs = []string{"wo-2", "wo-3"}
		if err := reg.Payouts().Insert(ctx, overlapping); !pfirestore.IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if _, err := reg.Payouts().FindByID(ctx, "po-2"); !pfirestore.IsNotFound(err) {
			t.Fatalf("expected rejected payout to be absent, got %v", err)
		}

		first.Status = domain.PayoutStatusReversed
		if err := reg.Payouts().Update(ctx, first); err != nil {
			t.Fatalf("reverse first: %v", err)
		}
		if err := reg.Payouts().Insert(ctx, overlapping); err != nil {
			t.Fatalf("insert after reversal: %v", err)
		}
	})

	t.Run("list by brand pages newest first", func(t *testing.T) {
		base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			at := base.Add(time.Duration(i) * time.Hour)
			f := domain.Fulfillment{
				ID:         fmt.Sprintf("lb-%d", i),
				PipelineID: fmt.Sprintf("lb-pl-%d", i),
				OrderID:    "o-lb",
				BrandID:    "b-list",
				Status:     domain.FulfillmentStatusPending,
				CreatedAt:  at,
				UpdatedAt:  at,
			}
			if err := reg.Fulfillments().Insert(ctx, f); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}

		page, err := reg.Fulfillments().ListByBrand(ctx, "b-list", domain.Pagination{PageSize: 3})
		if err != nil {
			t.Fatalf("first page: %v", err)
		}
		if len(page.Items) != 3 || page.Items[0].ID != "lb-4" || page.NextPageToken == "" {
			t.Fatalf("unexpected first page %+v", page)
		}
		next, err := reg.Fulfillments().ListByBrand(ctx, "b-list", domain.Pagination{PageSize: 3, PageToken: page.NextPageToken})
		if err != nil {
			t.Fatalf("second page: %v", err)
		}
		if len(next.Items) != 2 || next.Items[1].ID != "lb-0" || next.NextPageToken != "" {
			t.Fatalf("unexpected second page %+v", next)
		}
	})

	t.Run("rate limit bucket never double spends", func(t *testing.T) {
		store, err := ratelimit.NewFirestoreStore(provider)
		if err != nil {
			t.Fatalf("new bucket store: %v", err)
		}
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		cfg := ratelimit.Config{Capacity: 5, RefillRate: 1, RefillInterval: time.Hour}
		limiter, err := ratelimit.New(store, ratelimit.WithClock(func() time.Time { return now }), ratelimit.WithDefaultConfig(cfg))
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}

		const workers = 12
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			allowed  int
			failOpen int
		)
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				res, err := limiter.Check(ctx, "tenant-burst", 1)
				if err != nil {
					t.Errorf("check: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if res.FailOpen {
					failOpen++
				}
				if res.Allowed {
					allowed++
				}
			}()
		}
		wg.Wait()

		if failOpen != 0 {
			t.Fatalf("expected no fail-open decisions against a live store, got %d", failOpen)
		}
		if allowed > cfg.Capacity {
			t.Fatalf("expected at most %d allowed, got %d", cfg.Capacity, allowed)
		}
		bucket, found, err := store.Load(ctx, "tenant-burst", now)
		if err != nil || !found {
			t.Fatalf("load bucket: found=%v err=%v", found, err)
		}
		if int(bucket.Tokens) != cfg.Capacity-allowed {
			t.Fatalf("expected %d tokens left after %d grants, got %v", cfg.Capacity-allowed, allowed, bucket.Tokens)
		}
	})

	t.Run("scheduler lock acquire contend release", func(t *testing.T) {
		now := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
		later := now.Add(2 * time.Minute)
		first, err := jobs.NewFirestoreLocker(provider, "instance-a", func() time.Time { return now })
		if err != nil {
			t.Fatalf("new locker: %v", err)
		}
		second, err := jobs.NewFirestoreLocker(provider, "instance-b", func() time.Time { return now })
		if err != nil {
			t.Fatalf("new locker: %v", err)
		}
		expired, err := jobs.NewFirestoreLocker(provider, "instance-c", func() time.Time { return later })
		if err != nil {
			t.Fatalf("new locker: %v", err)
		}

		if ok, err := first.Acquire(ctx, "sla-sweep", time.Minute); err != nil || !ok {
			t.Fatalf("first acquire: ok=%v err=%v", ok, err)
		}
		if ok, err := second.Acquire(ctx, "sla-sweep", time.Minute); err != nil || ok {
			t.Fatalf("expected contention skip, ok=%v err=%v", ok, err)
		}
		if err := second.Release(ctx, "sla-sweep"); err != nil {
			t.Fatalf("foreign release: %v", err)
		}
		if ok, _ := second.Acquire(ctx, "sla-sweep", time.Minute); ok {
			t.Fatal("foreign release must not drop the lock")
		}
		if err := first.Release(ctx, "sla-sweep"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if ok, err := second.Acquire(ctx, "sla-sweep", time.Minute); err != nil || !ok {
			t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
		}
		if ok, err := expired.Acquire(ctx, "sla-sweep", time.Minute); err != nil || !ok {
			t.Fatalf("expected takeover after expiry: ok=%v err=%v", ok, err)
		}

		const contenders = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		wg.Add(contenders)
		for i := 0; i < contenders; i++ {
			go func(idx int) {
				defer wg.Done()
				locker, err := jobs.NewFirestoreLocker(provider, fmt.Sprintf("racer-%d", idx), func() time.Time { return now })
				if err != nil {
					t.Errorf("new locker: %v", err)
					return
				}
				ok, err := locker.Acquire(ctx, "reconcile", time.Minute)
				if err != nil {
					t.Errorf("acquire(%d): %v", idx, err)
					return
				}
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		if winners > 1 {
			t.Fatalf("expected at most one lock holder, got %d", winners)
		}
	})

	t.Run("readiness reports firestore", func(t *testing.T) {
		report, err := reg.Health().Collect(ctx)
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		if report.Checks["firestore"].Status != domain.HealthStatusOK {
			t.Fatalf("expected firestore ok, got %+v", report.Checks["firestore"])
		}
	})
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
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	)
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
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
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
