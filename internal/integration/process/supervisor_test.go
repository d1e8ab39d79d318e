package process

import (
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisor_TracksUntilExit(t *testing.T) {
	exited := make(chan *Process, 1)
	s := NewSupervisor(WithProcessExitCallback(func(p *Process) {
		exited <- p
	}))
	defer s.Shutdown(time.Second)

	proc, err := s.StartWithID("fixed-id", "echo", exec.Command("echo", "hello"))
	if err != nil {
		t.Fatalf("StartWithID() error = %v", err)
	}
	if proc.ID != "fixed-id" {
		t.Errorf("ID = %q", proc.ID)
	}

	select {
	case p := <-exited:
		if p.ID != proc.ID {
			t.Errorf("callback got %q, want %q", p.ID, proc.ID)
		}
		if p.ExitCode() != 0 {
			t.Errorf("ExitCode() = %d, want 0", p.ExitCode())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}

	deadline := time.Now().Add(time.Second)
	for s.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d after exit, want 0", s.Count())
	}
}

func TestSupervisor_GeneratedIDs(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	a, err := s.Start("a", exec.Command("sleep", "5"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Start("b", exec.Command("sleep", "5"))
	if err != nil {
		t.Fatal(err)
	}

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs should be unique and non-empty: %q %q", a.ID, b.ID)
	}
	if s.Get(a.ID) != a {
		t.Error("Get() should return the tracked process")
	}
	if len(s.List()) != 2 {
		t.Errorf("List() len = %d, want 2", len(s.List()))
	}
}

func TestSupervisor_DuplicateID(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	if _, err := s.StartWithID("dup", "one", exec.Command("sleep", "5")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StartWithID("dup", "two", exec.Command("sleep", "5")); err == nil {
		t.Error("expected error for duplicate ID")
	}
}

func TestSupervisor_MaxProcesses(t *testing.T) {
	s := NewSupervisor(WithMaxProcesses(1))
	defer s.Shutdown(time.Second)

	if _, err := s.Start("one", exec.Command("sleep", "5")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start("two", exec.Command("sleep", "5")); err == nil {
		t.Error("expected process limit error")
	}
}

func TestSupervisor_Terminate(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	if err := s.Terminate("missing"); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("Terminate(missing) error = %v", err)
	}

	proc, err := s.Start("sleep", exec.Command("sleep", "30"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Terminate(proc.ID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not terminated")
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	var exits atomic.Int32
	s := NewSupervisor(WithProcessExitCallback(func(*Process) { exits.Add(1) }))

	for i := 0; i < 3; i++ {
		if _, err := s.Start("sleep", exec.Command("sleep", "30")); err != nil {
			t.Fatal(err)
		}
	}

	s.Shutdown(2 * time.Second)

	if exits.Load() != 3 {
		t.Errorf("exit callbacks = %d, want 3", exits.Load())
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d after Shutdown", s.Count())
	}
	if !s.IsShuttingDown() {
		t.Error("IsShuttingDown() = false")
	}
	if _, err := s.Start("late", exec.Command("true")); !errors.Is(err, ErrSupervisorShutdown) {
		t.Errorf("Start after Shutdown error = %v", err)
	}
}
