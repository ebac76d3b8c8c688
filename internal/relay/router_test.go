package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRouteServiceEventIsIgnored(t *testing.T) {
	p := newTestPlatform()
	r, _ := newTestRouter(p, newMemStore(), 100)
	if err := r.Route(context.Background(), ServiceEvent{SourceID: -1001, ID: 9}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("unexpected calls: %v", p.ops())
	}
}

func TestRouteDispatch(t *testing.T) {
	p := newTestPlatform()
	r, rec := newTestRouter(p, newMemStore(), 0)
	ctx := context.Background()

	if err := r.Route(ctx, ContentMessage{ID: 1, Text: "Ver el " + testMarker + " abajo"}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if rec.Tracked() == 0 {
		t.Fatal("disclaimer was not reconciled")
	}
	if err := r.Route(ctx, ContentMessage{ID: 2, Text: "aviso de responsabilidad"}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d := cmp.Diff([]string{"send", "pin", "copy"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
}

func TestRouteMediaOnlyIsForwarded(t *testing.T) {
	p := newTestPlatform()
	r, _ := newTestRouter(p, newMemStore(), 0)
	if err := r.Route(context.Background(), ContentMessage{ID: 1, Media: "sticker"}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d := cmp.Diff([]string{"copy"}, p.ops()); d != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", d)
	}
}

func TestRouteReturnsForwardErrors(t *testing.T) {
	p := newTestPlatform()
	p.copyErr = errors.New("FLOOD")
	r, _ := newTestRouter(p, newMemStore(), 0)
	if err := r.Route(context.Background(), ContentMessage{ID: 1, Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
