package board

import (
	"sort"
	"time"

	"boardsync/domain"
)

// BoardView is the client-side reconciliation model: a partition of tasks by
// status column, each kept sorted by order. Every inbound broadcast event is
// applied by removing the affected task from whichever column holds it,
// inserting the updated record into the column matching its new status, and
// re-sorting that column.
type BoardView struct {
	columns map[domain.Status][]domain.Task
}

// NewBoardView builds a view from a full board snapshot.
func NewBoardView(tasks []domain.Task) *BoardView {
	v := &BoardView{}
	v.Load(tasks)
	return v
}

// Load replaces the entire view, as after a reconnect re-fetch.
func (v *BoardView) Load(tasks []domain.Task) {
	v.columns = map[domain.Status][]domain.Task{
		domain.StatusTodo:       nil,
		domain.StatusInProgress: nil,
		domain.StatusDone:       nil,
	}
	for _, t := range tasks {
		v.columns[t.Status] = append(v.columns[t.Status], t)
	}
	for status := range v.columns {
		v.sortColumn(status)
	}
}

// Column returns a copy of the tasks in one column, sorted by order.
func (v *BoardView) Column(status domain.Status) []domain.Task {
	col := v.columns[status]
	out := make([]domain.Task, len(col))
	copy(out, col)
	return out
}

// Get finds a task anywhere in the view.
func (v *BoardView) Get(taskID string) (domain.Task, bool) {
	for _, col := range v.columns {
		for _, t := range col {
			if t.ID == taskID {
				return t, true
			}
		}
	}
	return domain.Task{}, false
}

// Apply merges one inbound broadcast event into the local view.
func (v *BoardView) Apply(ev domain.Event) {
	switch ev.Type {
	case domain.EventTaskCreated, domain.EventTaskUpdated, domain.EventTaskMoved:
		if ev.Task == nil {
			return
		}
		v.remove(ev.Task.ID)
		v.insert(*ev.Task)
	case domain.EventTaskDeleted:
		v.remove(ev.TaskID)
	case domain.EventTasksReordered:
		v.applyPositions(ev.Positions)
	case domain.EventEditStarted, domain.EventEditEnded, domain.EventEditSessionExpired:
		v.setLockState(ev)
	}
}

// MoveOptimistic applies a drag gesture locally before the server confirms
// and returns a revert that restores the pre-move view. On a rejected write
// the caller reverts and re-fetches full state; there is no partial rollback
// of a single field.
func (v *BoardView) MoveOptimistic(taskID string, status domain.Status, order int) (revert func(), ok bool) {
	task, found := v.Get(taskID)
	if !found {
		return nil, false
	}
	snapshot := v.snapshot()
	v.remove(taskID)
	task.Status = status
	task.Order = order
	v.insert(task)
	return func() { v.columns = snapshot }, true
}

func (v *BoardView) snapshot() map[domain.Status][]domain.Task {
	out := make(map[domain.Status][]domain.Task, len(v.columns))
	for status, col := range v.columns {
		cp := make([]domain.Task, len(col))
		copy(cp, col)
		out[status] = cp
	}
	return out
}

func (v *BoardView) remove(taskID string) {
	for status, col := range v.columns {
		for i, t := range col {
			if t.ID == taskID {
				v.columns[status] = append(col[:i:i], col[i+1:]...)
				return
			}
		}
	}
}

func (v *BoardView) insert(task domain.Task) {
	v.columns[task.Status] = append(v.columns[task.Status], task)
	v.sortColumn(task.Status)
}

func (v *BoardView) applyPositions(positions []domain.TaskPosition) {
	for _, p := range positions {
		task, found := v.Get(p.ID)
		if !found {
			continue
		}
		v.remove(p.ID)
		task.Status = p.Status
		task.Order = p.Order
		v.insert(task)
	}
}

func (v *BoardView) setLockState(ev domain.Event) {
	for status, col := range v.columns {
		for i, t := range col {
			if t.ID != ev.TaskID {
				continue
			}
			if ev.Type == domain.EventEditStarted {
				at := time.Unix(0, ev.Time)
				col[i].IsLocked = true
				col[i].LockedBy = ev.UserID
				col[i].LockAcquiredAt = &at
			} else {
				col[i].IsLocked = false
				col[i].LockedBy = ""
				col[i].LockAcquiredAt = nil
			}
			v.columns[status] = col
			return
		}
	}
}

func (v *BoardView) sortColumn(status domain.Status) {
	col := v.columns[status]
	sort.SliceStable(col, func(i, j int) bool {
		if col[i].Order != col[j].Order {
			return col[i].Order < col[j].Order
		}
		return col[i].ID < col[j].ID
	})
}
