package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func disclaimer(id int, body string) ContentMessage {
	return ContentMessage{ID: id, SourceID: -1001, Text: testMarker + ": " + body, Media: "doc"}
}

func TestReconcileCreatesAndPins(t *testing.T) {
	p := newTestPlatform()
	store := newMemStore()
	_, rec := newTestRouter(p, store, 0)

	if err := rec.Reconcile(context.Background(), disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []call{
		{Op: "send", Dest: testDest, Text: testMarker + ": X", Media: "doc", NoPreview: true},
		{Op: "pin", Dest: testDest, ID: 101},
	}
	if d := cmp.Diff(want, p.calls); d != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", d)
	}
	if rec.Tracked() != 101 {
		t.Fatalf("tracked = %d, want 101", rec.Tracked())
	}
	if id, ok, _ := store.PinnedID(testDest); !ok || id != 101 {
		t.Fatalf("persisted = %d,%v", id, ok)
	}
}

func TestReconcileUnchangedIsNoop(t *testing.T) {
	p := newTestPlatform()
	store := newMemStore()
	_, rec := newTestRouter(p, store, 0)
	ctx := context.Background()

	if err := rec.Reconcile(ctx, disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	p.calls = nil
	if err := rec.Reconcile(ctx, disclaimer(2, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if d := cmp.Diff([]string{"get"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
}

func TestReconcileChangedEditsInPlace(t *testing.T) {
	p := newTestPlatform()
	store := newMemStore()
	_, rec := newTestRouter(p, store, 0)
	ctx := context.Background()

	if err := rec.Reconcile(ctx, disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	p.calls = nil
	if err := rec.Reconcile(ctx, disclaimer(2, "Y by SersanSistemas")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := []call{
		{Op: "get", Dest: testDest, ID: 101},
		{Op: "edit", Dest: testDest, ID: 101, Text: testMarker + ": Y by ASniper", Media: "doc", NoPreview: true},
	}
	if d := cmp.Diff(want, p.calls); d != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", d)
	}
	if rec.Tracked() != 101 {
		t.Fatalf("tracked changed to %d", rec.Tracked())
	}
}

func TestReconcileRecoversFromDeletion(t *testing.T) {
	p := newTestPlatform()
	store := newMemStore()
	_, rec := newTestRouter(p, store, 0)
	ctx := context.Background()

	if err := rec.Reconcile(ctx, disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	delete(p.messages, 101)

	p.calls = nil
	if err := rec.Reconcile(ctx, disclaimer(2, "Y")); err != nil {
		t.Fatalf("lost pin must not propagate: %v", err)
	}
	if rec.Tracked() != 0 {
		t.Fatalf("tracked = %d, want cleared", rec.Tracked())
	}
	if _, ok, _ := store.PinnedID(testDest); ok {
		t.Fatal("persisted id not cleared")
	}

	p.calls = nil
	if err := rec.Reconcile(ctx, disclaimer(3, "Z")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if d := cmp.Diff([]string{"send", "pin"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
	if rec.Tracked() != 102 {
		t.Fatalf("tracked = %d, want 102", rec.Tracked())
	}
}

func TestReconcileEditFailureClears(t *testing.T) {
	p := newTestPlatform()
	store := newMemStore()
	_, rec := newTestRouter(p, store, 0)
	ctx := context.Background()

	if err := rec.Reconcile(ctx, disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	p.editErr = errors.New("MESSAGE_ID_INVALID")
	if err := rec.Reconcile(ctx, disclaimer(2, "Y")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.Tracked() != 0 {
		t.Fatalf("tracked = %d, want cleared", rec.Tracked())
	}
}

func TestReconcileRestoresPersistedID(t *testing.T) {
	p := newTestPlatform()
	p.messages[55] = ContentMessage{ID: 55, Text: testMarker + ": X", Pinned: true}
	store := newMemStore()
	store.pinned[testDest] = 55
	_, rec := newTestRouter(p, store, 100)

	if err := rec.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := rec.Reconcile(context.Background(), disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if d := cmp.Diff([]string{"get"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
}

func TestReconcileAdoptsPinnedFromScan(t *testing.T) {
	p := newTestPlatform()
	p.messages[40] = ContentMessage{ID: 40, Text: testMarker + ": old", Pinned: true}
	p.recent = []ContentMessage{
		{ID: 42, Text: testMarker + ": not pinned"},
		{ID: 41, Text: "pinned but unrelated", Pinned: true},
		p.messages[40],
	}
	store := newMemStore()
	_, rec := newTestRouter(p, store, 100)

	if err := rec.Reconcile(context.Background(), disclaimer(1, "new")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if d := cmp.Diff([]string{"recent", "get", "edit"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
	if p.calls[0].ID != 100 {
		t.Fatalf("lookback = %d", p.calls[0].ID)
	}
	if id, ok, _ := store.PinnedID(testDest); !ok || id != 40 {
		t.Fatalf("persisted = %d,%v", id, ok)
	}
}

func TestReconcileScanFailureCreates(t *testing.T) {
	p := newTestPlatform()
	p.recentErr = ErrUnsupported
	_, rec := newTestRouter(p, newMemStore(), 100)

	if err := rec.Reconcile(context.Background(), disclaimer(1, "X")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if d := cmp.Diff([]string{"recent", "send", "pin"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
}

func TestReconcilePinFailureKeepsReference(t *testing.T) {
	p := newTestPlatform()
	p.pinErr = errors.New("CHAT_ADMIN_REQUIRED")
	store := newMemStore()
	_, rec := newTestRouter(p, store, 0)

	if err := rec.Reconcile(context.Background(), disclaimer(1, "X")); err == nil {
		t.Fatal("expected pin error")
	}
	if rec.Tracked() != 101 {
		t.Fatalf("tracked = %d, want 101", rec.Tracked())
	}
}

func TestReconcileSendFailureStaysUntracked(t *testing.T) {
	p := newTestPlatform()
	p.sendErr = errors.New("network")
	_, rec := newTestRouter(p, newMemStore(), 0)

	if err := rec.Reconcile(context.Background(), disclaimer(1, "X")); err == nil {
		t.Fatal("expected send error")
	}
	if rec.Tracked() != 0 {
		t.Fatalf("tracked = %d", rec.Tracked())
	}
}
