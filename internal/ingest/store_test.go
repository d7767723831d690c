package ingest

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStoreTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "pending to running", from: StatusPending, to: StatusRunning},
		{name: "pending to cancelled", from: StatusPending, to: StatusCancelled},
		{name: "pending to failed", from: StatusPending, to: StatusFailed},
		{name: "running to completed", from: StatusRunning, to: StatusCompleted},
		{name: "running to failed", from: StatusRunning, to: StatusFailed},
		{name: "running to cancelled", from: StatusRunning, to: StatusCancelled},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, wantErr: true},
		{name: "running to pending", from: StatusRunning, to: StatusPending, wantErr: true},
		{name: "completed to running", from: StatusCompleted, to: StatusRunning, wantErr: true},
		{name: "cancelled to completed", from: StatusCancelled, to: StatusCompleted, wantErr: true},
		{name: "failed to cancelled", from: StatusFailed, to: StatusCancelled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			if err := s.Create(Task{ID: "t1", Status: tt.from, CreatedAt: time.Now()}); err != nil {
				t.Fatalf("Create: %v", err)
			}

			_, err := s.Update("t1", func(task *Task) { task.Status = tt.to })
			if (err != nil) != tt.wantErr {
				t.Fatalf("Update %s -> %s: err = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("err = %v, want ErrInvalidTransition", err)
				}
				got, _ := s.Get("t1")
				if got.Status != tt.from {
					t.Errorf("rejected update mutated status to %s", got.Status)
				}
			}
		})
	}
}

func TestStoreUnknownTask(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get: err = %v, want ErrTaskNotFound", err)
	}
	if _, err := s.Update("nope", func(*Task) {}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Update: err = %v, want ErrTaskNotFound", err)
	}
}

func TestStoreDuplicateCreate(t *testing.T) {
	s := NewMemoryStore()
	task := Task{ID: "t1", Status: StatusPending, CreatedAt: time.Now()}
	if err := s.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(task); err == nil {
		t.Error("duplicate Create accepted")
	}
}

func TestStoreSnapshotsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Create(Task{
		ID:        "t1",
		Status:    StatusPending,
		CreatedAt: time.Now(),
		DocErrors: []DocError{{Path: "a.md", Message: "boom"}},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := s.Get("t1")
	got.DocErrors[0].Path = "mutated"
	got.Status = StatusRunning

	again, _ := s.Get("t1")
	if again.DocErrors[0].Path != "a.md" || again.Status != StatusPending {
		t.Error("caller mutation leaked into the store")
	}
}

func TestTaskProgress(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want float64
	}{
		{"pending without counters", Task{Status: StatusPending}, 0},
		{"running midway", Task{Status: StatusRunning, DocsTotal: 10, DocsDone: 4}, 0.4},
		{"failed partway", Task{Status: StatusFailed, DocsTotal: 4, DocsDone: 1}, 0.25},
		{"completed", Task{Status: StatusCompleted, DocsTotal: 3, DocsDone: 3}, 1},
		{"completed empty source", Task{Status: StatusCompleted}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.clone().Progress; got != tt.want {
				t.Errorf("Progress = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreReportsProgress(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Create(Task{ID: "t1", Status: StatusPending, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	updated, err := s.Update("t1", func(task *Task) {
		task.Status = StatusRunning
		task.DocsTotal = 4
		task.DocsDone = 1
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Progress != 0.25 {
		t.Errorf("Progress after update = %v, want 0.25", updated.Progress)
	}
	got, _ := s.Get("t1")
	if got.Progress != 0.25 {
		t.Errorf("Progress from Get = %v, want 0.25", got.Progress)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Create(Task{ID: id, Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	list := s.List()
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		t.Errorf("List order = %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
}
