package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyPlatform fails the first n sends.
type flakyPlatform struct {
	*testPlatform
	failures int
	err      error
	onSend   func(Outgoing)
}

func (f *flakyPlatform) Send(ctx context.Context, dest int64, out Outgoing) (int, error) {
	if f.onSend != nil {
		f.onSend(out)
	}
	if f.failures > 0 {
		f.failures--
		f.calls = append(f.calls, call{Op: "send_failed"})
		return 0, f.err
	}
	return f.testPlatform.Send(ctx, dest, out)
}

func TestWithRetryRecovers(t *testing.T) {
	fp := &flakyPlatform{testPlatform: newTestPlatform(), failures: 2, err: errors.New("timeout")}
	p := WithRetry(fp, 3, time.Millisecond)

	id, err := p.Send(context.Background(), testDest, Outgoing{Text: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != 101 {
		t.Fatalf("id = %d", id)
	}
	if len(fp.calls) != 3 {
		t.Fatalf("calls = %v", fp.ops())
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	boom := errors.New("timeout")
	fp := &flakyPlatform{testPlatform: newTestPlatform(), failures: 10, err: boom}
	p := WithRetry(fp, 3, time.Millisecond)

	if _, err := p.Send(context.Background(), testDest, Outgoing{Text: "x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(fp.calls) != 3 {
		t.Fatalf("attempts = %d", len(fp.calls))
	}
}

func TestWithRetryNotFoundIsPermanent(t *testing.T) {
	tp := newTestPlatform()
	p := WithRetry(tp, 5, time.Millisecond)

	_, err := p.Message(context.Background(), testDest, 7)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(tp.calls) != 1 {
		t.Fatalf("attempts = %d", len(tp.calls))
	}
}

func TestWithRetryDisabled(t *testing.T) {
	tp := newTestPlatform()
	if WithRetry(tp, 1, time.Second) != Platform(tp) {
		t.Fatal("expected platform unchanged")
	}
}

func TestWithRetryKeepsSendKey(t *testing.T) {
	fp := &flakyPlatform{testPlatform: newTestPlatform(), failures: 2, err: errors.New("timeout")}
	var keys []int64
	fp.onSend = func(out Outgoing) { keys = append(keys, out.Key) }
	p := WithRetry(fp, 3, time.Millisecond)

	if _, err := p.Send(context.Background(), testDest, Outgoing{Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("keys = %v", keys)
	}
	for _, k := range keys {
		if k == 0 || k != keys[0] {
			t.Fatalf("keys = %v, want one non-zero key", keys)
		}
	}

	keys = nil
	fp.failures = 1
	if _, err := p.Send(context.Background(), testDest, Outgoing{Text: "y", Key: 42}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(keys) != 2 || keys[0] != 42 || keys[1] != 42 {
		t.Fatalf("keys = %v", keys)
	}
}
