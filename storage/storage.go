// Package storage holds the Task Store backends.
package storage

import (
	"errors"
	"sort"

	"tasksync/domain"
)

// ErrConflict is returned when inserting a task id that already exists.
var ErrConflict = errors.New("task already exists")

// sortNewestFirst orders tasks by creation time, newest first, with the id as
// a stable tie breaker.
func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}
