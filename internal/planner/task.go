// Package planner implements the day-by-day greedy allocation of study hours.
//
// A Driver owns a private working copy of the tasks for one run. Each simulated
// day it hands the list and the day's hour budget to Allocate, which spends the
// budget one hour at a time on the highest priority task, and then to Age, which
// counts every surviving deadline down and evicts the tasks that ran out of days.
package planner

import "studyline/internal/domain"

// Task is the working state of one assignment during a scheduling run.
type Task struct {
	ID        string
	Subject   string
	Name      string
	Deadline  int
	Duration  int
	Weight    float64
	Size      int
	GroupWork bool
	GroupSize int

	// RealDuration is the remaining work in hours. It starts at
	// Duration/GroupSize and the task is complete once it drops to zero.
	RealDuration int
	// Priority is only meaningful while the task sits in a day's queue.
	Priority int
}

// FromDomain builds a fresh working task from a stored assignment.
func FromDomain(t domain.Task) Task {
	groupSize := t.GroupSize
	if groupSize < 1 {
		groupSize = 1
	}
	return Task{
		ID:           t.ID,
		Subject:      t.Subject,
		Name:         t.Name,
		Deadline:     t.Deadline,
		Duration:     t.Duration,
		Weight:       t.Weight,
		Size:         t.Size,
		GroupWork:    t.GroupWork,
		GroupSize:    groupSize,
		RealDuration: t.Duration / groupSize,
	}
}

// FromDomainList converts stored assignments preserving their order.
func FromDomainList(items []domain.Task) []Task {
	out := make([]Task, 0, len(items))
	for _, t := range items {
		out = append(out, FromDomain(t))
	}
	return out
}

func (t *Task) done() bool { return t.RealDuration <= 0 }
