package domain

import (
	"errors"
	"testing"
)

func TestSelectAssigneeLeastLoaded(t *testing.T) {
	users := []User{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	loads := map[string]int{"A": 2, "B": 0, "C": 1}

	got, err := SelectAssignee(users, loads)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.ID != "B" {
		t.Fatalf("expected B, got %s", got.ID)
	}
}

func TestSelectAssigneeTieBreaksOnInputOrder(t *testing.T) {
	users := []User{{ID: "A"}, {ID: "B"}}
	loads := map[string]int{"A": 1, "B": 1}

	for i := 0; i < 10; i++ {
		got, err := SelectAssignee(users, loads)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if got.ID != "A" {
			t.Fatalf("expected first candidate A on tie, got %s", got.ID)
		}
	}
}

func TestSelectAssigneeNoCandidates(t *testing.T) {
	_, err := SelectAssignee(nil, map[string]int{})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestLoadCountsSkipsTerminalStatus(t *testing.T) {
	tasks := []Task{
		{AssignedTo: "A", Status: StatusTodo},
		{AssignedTo: "A", Status: StatusInProgress},
		{AssignedTo: "A", Status: StatusDone},
		{AssignedTo: "B", Status: StatusDone},
	}
	loads := LoadCounts(tasks)
	if loads["A"] != 2 {
		t.Fatalf("expected A load 2, got %d", loads["A"])
	}
	if loads["B"] != 0 {
		t.Fatalf("expected B load 0, got %d", loads["B"])
	}
}
