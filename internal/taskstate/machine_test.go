package taskstate

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestNewMachineIsFinished(t *testing.T) {
	m := New()
	if got := m.Snapshot(); got.State != Finished || got.Seq != 0 {
		t.Fatalf("unexpected initial record: %+v", got)
	}
}

func TestWaitForChangeReturnsImmediatelyWhenStateDiffers(t *testing.T) {
	m := New()
	m.Set(Info{State: WaitForInput, Message: "delete?"})

	info, err := m.WaitForChange(context.Background(), InProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.State != WaitForInput || info.Message != "delete?" {
		t.Fatalf("unexpected record: %+v", info)
	}
}

func TestWaitForChangeSeesFirstTransition(t *testing.T) {
	m := New()
	m.Set(Info{State: InProgress})

	got := make(chan Info, 1)
	go func() {
		info, err := m.WaitForChange(context.Background(), InProgress)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got <- info
	}()
	time.Sleep(20 * time.Millisecond)

	// Both transitions land before the waiter gets the lock back.
	m.Set(Info{State: WaitForInput, Message: "first"})
	m.Set(Info{State: InProgress, Message: "y"})

	select {
	case info := <-got:
		if info.State != WaitForInput || info.Message != "first" {
			t.Fatalf("expected first transition, got %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestWaitForChangeIgnoresSameStateUpdates(t *testing.T) {
	m := New()
	m.Set(Info{State: InProgress})

	got := make(chan Info, 1)
	go func() {
		info, _ := m.WaitForChange(context.Background(), InProgress)
		got <- info
	}()
	time.Sleep(10 * time.Millisecond)
	m.Set(Info{State: InProgress, Message: "still running"})

	select {
	case info := <-got:
		t.Fatalf("waiter released by same-state update: %+v", info)
	case <-time.After(30 * time.Millisecond):
	}

	m.Set(Info{State: Finished, Result: "success"})
	select {
	case info := <-got:
		if info.State != Finished || info.Result != "success" {
			t.Fatalf("unexpected record: %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestWaitForChangeTerminate(t *testing.T) {
	m := New()
	m.Set(Info{State: WaitForInput, Message: "ok?"})

	errCh := make(chan error, 1)
	go func() {
		_, err := m.WaitForChange(context.Background(), WaitForInput)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	m.Set(Info{State: Terminate})

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("expected ErrTerminated, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}

	if _, err := m.WaitForChange(context.Background(), InProgress); !errors.Is(err, ErrTerminated) {
		t.Fatalf("expected ErrTerminated for current TERMINATE record, got %v", err)
	}
}

func TestWaitForChangeHonoursContext(t *testing.T) {
	m := New()
	m.Set(Info{State: InProgress})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.WaitForChange(ctx, InProgress)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestResetForcesFinished(t *testing.T) {
	m := New()
	m.Set(Info{State: Terminate})
	info := m.Reset()
	if info.State != Finished || m.Snapshot().State != Finished {
		t.Fatalf("expected FINISHED after reset, got %+v", info)
	}
}

func TestNextWalksHistory(t *testing.T) {
	m := New(WithHistory(2))
	for i := 1; i <= 5; i++ {
		m.Set(Info{State: InProgress, Message: i})
	}

	info, err := m.Next(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Seq != 4 {
		t.Fatalf("expected oldest retained record (seq 4), got %+v", info)
	}

	m.Set(Info{State: Terminate})
	info, err = m.Next(context.Background(), 5)
	if err != nil || info.State != Terminate {
		t.Fatalf("expected TERMINATE record without error, got %+v, %v", info, err)
	}
}

func TestSnapshotIsAtomic(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n := i*1000 + j
				m.Set(Info{State: InProgress, Message: n, Result: strconv.Itoa(n)})
			}
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		default:
		}
		info := m.Snapshot()
		if info.Seq == 0 {
			continue
		}
		if strconv.Itoa(info.Message.(int)) != info.Result {
			t.Fatalf("torn record: %+v", info)
		}
	}
}

func TestWaitSinceSeesTransitionsBeforeTheCall(t *testing.T) {
	m := New()
	start := m.Set(Info{State: InProgress})
	m.Set(Info{State: WaitForInput, Message: "first"})
	m.Set(Info{State: InProgress, Message: "y"})

	info, err := m.WaitSince(context.Background(), InProgress, start.Seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.State != WaitForInput || info.Message != "first" {
		t.Fatalf("expected first transition after seq %d, got %+v", start.Seq, info)
	}
}
