package service

import (
	"context"
	"testing"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

func expired(txn *models.Transaction) {
	txn.ExpiresAt = time.Now().Add(-time.Minute)
}

func TestSweepExpired(t *testing.T) {
	h := newHarness(t, newMockAdapter(models.ProviderMpesa))
	h.seed(t, "pending-stale", models.StatusPending, expired)
	h.seed(t, "processing-stale", models.StatusProcessing, expired)
	h.seed(t, "completed-stale", models.StatusCompleted, expired)
	h.seed(t, "processing-fresh", models.StatusProcessing)
	ctx := context.Background()

	n, err := h.orch.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expired %d, want 2", n)
	}

	want := map[string]models.PaymentStatus{
		"pending-stale":    models.StatusExpired,
		"processing-stale": models.StatusExpired,
		"completed-stale":  models.StatusCompleted,
		"processing-fresh": models.StatusProcessing,
	}
	for id, status := range want {
		txn := h.get(t, id)
		if txn.Status != status {
			t.Errorf("%s status = %s, want %s", id, txn.Status, status)
		}
		if status == models.StatusExpired && txn.FailureReason != "Payment expired" {
			t.Errorf("%s failure reason = %q", id, txn.FailureReason)
		}
	}

	_, _, notifications := h.events.counts()
	if notifications != 2 {
		t.Errorf("notifications = %d, want 2", notifications)
	}

	if n, err := h.orch.SweepExpired(ctx); err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}
}

func TestSweepExpired_LosesToWebhook(t *testing.T) {
	h := newHarness(t, newMockAdapter(models.ProviderMpesa))
	h.seed(t, "txn-1", models.StatusProcessing, expired)
	ctx := context.Background()

	body, sig := signed(t, mockCallback{ID: "txn-1", Status: models.StatusCompleted})
	if _, err := h.orch.HandleWebhook(ctx, models.ProviderMpesa, body, sig); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}

	n, err := h.orch.SweepExpired(ctx)
	if err != nil || n != 0 {
		t.Errorf("SweepExpired() = %d, %v; want 0, nil", n, err)
	}
	if txn := h.get(t, "txn-1"); txn.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", txn.Status)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	h := newHarness(t, newMockAdapter(models.ProviderMpesa))
	h.seed(t, "txn-1", models.StatusPending, expired)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for h.get(t, "txn-1").Status != models.StatusExpired {
		select {
		case <-deadline:
			t.Fatal("sweeper never expired the payment")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}
