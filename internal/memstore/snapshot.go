package memstore

import "taskdesk/internal/board"

// Snapshot is a point-in-time copy of the committed state. Tests use it to
// check that a failed operation left no trace behind.
type Snapshot struct {
	Users    map[string]board.User
	Projects map[string]board.Project
	Tasks    map[string]board.Task
	Files    map[string]board.File
}

// Snapshot copies the committed state of every collection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Users:    make(map[string]board.User, s.users.Size()),
		Projects: make(map[string]board.Project, s.projects.Size()),
		Tasks:    make(map[string]board.Task, s.tasks.Size()),
		Files:    make(map[string]board.File, s.files.Size()),
	}
	s.users.Range(func(id string, u board.User) bool {
		snap.Users[id] = u
		return true
	})
	s.projects.Range(func(id string, p board.Project) bool {
		snap.Projects[id] = cloneProject(p)
		return true
	})
	s.tasks.Range(func(id string, t board.Task) bool {
		snap.Tasks[id] = t
		return true
	})
	s.files.Range(func(id string, f board.File) bool {
		snap.Files[id] = f
		return true
	})
	return snap
}
