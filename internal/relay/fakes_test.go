package relay

import (
	"context"
	"fmt"

	"tsignals-relay/internal/transform"
)

const (
	testDest   = int64(-1009999)
	testMarker = "Aviso de Responsabilidad"
)

// call is one recorded platform invocation.
type call struct {
	Op    string
	Dest  int64
	ID    int
	Text  string
	Media any
	// NoPreview is only meaningful for send and edit.
	NoPreview bool
}

// testPlatform records calls and keeps an in-memory destination channel.
type testPlatform struct {
	calls    []call
	nextID   int
	messages map[int]ContentMessage
	recent   []ContentMessage
	history  map[int64][]Event

	copyErr    error
	sendErr    error
	editErr    error
	pinErr     error
	recentErr  error
	historyErr error
}

func newTestPlatform() *testPlatform {
	return &testPlatform{nextID: 100, messages: map[int]ContentMessage{}, history: map[int64][]Event{}}
}

func (p *testPlatform) Copy(ctx context.Context, dest int64, msg ContentMessage) error {
	p.calls = append(p.calls, call{Op: "copy", Dest: dest, ID: msg.ID, Text: msg.Text, Media: msg.Media})
	return p.copyErr
}

func (p *testPlatform) Send(ctx context.Context, dest int64, out Outgoing) (int, error) {
	p.calls = append(p.calls, call{Op: "send", Dest: dest, Text: out.Text, Media: out.Media, NoPreview: out.NoPreview})
	if p.sendErr != nil {
		return 0, p.sendErr
	}
	p.nextID++
	p.messages[p.nextID] = ContentMessage{ID: p.nextID, SourceID: dest, Text: out.Text, Media: out.Media}
	return p.nextID, nil
}

func (p *testPlatform) Edit(ctx context.Context, dest int64, id int, out Outgoing) error {
	p.calls = append(p.calls, call{Op: "edit", Dest: dest, ID: id, Text: out.Text, Media: out.Media, NoPreview: out.NoPreview})
	if p.editErr != nil {
		return p.editErr
	}
	m, ok := p.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Text, m.Media = out.Text, out.Media
	p.messages[id] = m
	return nil
}

func (p *testPlatform) Pin(ctx context.Context, dest int64, id int) error {
	p.calls = append(p.calls, call{Op: "pin", Dest: dest, ID: id})
	if p.pinErr != nil {
		return p.pinErr
	}
	if m, ok := p.messages[id]; ok {
		m.Pinned = true
		p.messages[id] = m
	}
	return nil
}

func (p *testPlatform) Message(ctx context.Context, dest int64, id int) (ContentMessage, error) {
	p.calls = append(p.calls, call{Op: "get", Dest: dest, ID: id})
	m, ok := p.messages[id]
	if !ok {
		return ContentMessage{}, fmt.Errorf("get %d: %w", id, ErrMessageNotFound)
	}
	return m, nil
}

func (p *testPlatform) Recent(ctx context.Context, dest int64, limit int) ([]ContentMessage, error) {
	p.calls = append(p.calls, call{Op: "recent", Dest: dest, ID: limit})
	if p.recentErr != nil {
		return nil, p.recentErr
	}
	return p.recent, nil
}

func (p *testPlatform) History(ctx context.Context, source int64, fn func(Event) error) error {
	p.calls = append(p.calls, call{Op: "history", Dest: source})
	if p.historyErr != nil {
		return p.historyErr
	}
	for _, ev := range p.history[source] {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

// ops returns the operation names recorded so far.
func (p *testPlatform) ops() []string {
	var out []string
	for _, c := range p.calls {
		out = append(out, c.Op)
	}
	return out
}

type memStore struct {
	pinned map[int64]int
	synced bool
}

func newMemStore() *memStore { return &memStore{pinned: map[int64]int{}} }

func (s *memStore) PinnedID(dest int64) (int, bool, error) {
	id, ok := s.pinned[dest]
	return id, ok, nil
}

func (s *memStore) SetPinnedID(dest int64, id int) error {
	s.pinned[dest] = id
	return nil
}

func (s *memStore) ClearPinnedID(dest int64) error {
	delete(s.pinned, dest)
	return nil
}

func (s *memStore) SyncCompleted() (bool, error) { return s.synced, nil }

func (s *memStore) MarkSyncCompleted() error {
	s.synced = true
	return nil
}

// newTestRouter wires the full relay path over p and store.
func newTestRouter(p *testPlatform, store *memStore, lookback int) (*Router, *Reconciler) {
	tr := transform.New(transform.DefaultRules)
	rec := NewReconciler(p, store, tr, testDest, testMarker, lookback)
	return NewRouter(NewForwarder(p, tr, testDest), rec, testMarker), rec
}
