package netpoll

import (
	"context"
	"syscall"
	"testing"
)

type fakeSocket struct {
	onReadable func() error
	onWritable func() error
}

func (f *fakeSocket) OnReadable() error {
	if f.onReadable == nil {
		return nil
	}
	return f.onReadable()
}

func (f *fakeSocket) OnWritable() error {
	if f.onWritable == nil {
		return nil
	}
	return f.onWritable()
}

func TestAddRemoveCount(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var fdPair [2]int
	if err := syscall.Pipe(fdPair[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fdPair[1])

	if err := p.Add(fdPair[0], &fakeSocket{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.Empty() {
		t.Fatal("Empty() = true after Add")
	}
	if p.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", p.Count())
	}

	if err := p.Remove(fdPair[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !p.Empty() {
		t.Fatal("Empty() = false after Remove")
	}
	if p.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", p.Count())
	}

	syscall.Close(fdPair[0])
}

func TestDuplicateAddIsSilentNoop(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var fdPair [2]int
	if err := syscall.Pipe(fdPair[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fdPair[0])
	defer syscall.Close(fdPair[1])

	if err := p.Add(fdPair[0], &fakeSocket{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(fdPair[0], &fakeSocket{}); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if p.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after duplicate Add", p.Count())
	}
}

func TestPollDispatchesReadable(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var fdPair [2]int
	if err := syscall.Pipe(fdPair[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fdPair[0])
	defer syscall.Close(fdPair[1])

	fired := make(chan struct{}, 1)
	sock := &fakeSocket{onReadable: func() error {
		var buf [1]byte
		syscall.Read(fdPair[0], buf[:])
		fired <- struct{}{}
		return nil
	}}

	if err := p.Add(fdPair[0], sock); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := syscall.Write(fdPair[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := p.Poll(context.Background(), 1000); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	select {
	case <-fired:
	default:
		t.Fatal("OnReadable was not invoked")
	}
}

func TestEpochBumpsOnMutation(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var fdPair [2]int
	if err := syscall.Pipe(fdPair[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer syscall.Close(fdPair[0])
	defer syscall.Close(fdPair[1])

	before := p.Epoch()
	if err := p.Add(fdPair[0], &fakeSocket{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.Epoch() == before {
		t.Fatal("Epoch did not change after Add")
	}

	afterAdd := p.Epoch()
	if err := p.Remove(fdPair[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if p.Epoch() == afterAdd {
		t.Fatal("Epoch did not change after Remove")
	}
}
