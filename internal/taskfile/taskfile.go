// Package taskfile reads and writes the portable JSON task list: an array of
// objects with subject, name, deadline, duration, weight, size, group_work and
// group_size keys.
package taskfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"studyline/internal/domain"
)

type entry struct {
	Subject   *string  `json:"subject"`
	Name      *string  `json:"name"`
	Deadline  *int     `json:"deadline"`
	Duration  *int     `json:"duration"`
	Weight    *float64 `json:"weight"`
	Size      *int     `json:"size"`
	GroupWork *bool    `json:"group_work"`
	GroupSize *int     `json:"group_size"`
}

func (e entry) missing() string {
	switch {
	case e.Subject == nil:
		return "subject"
	case e.Name == nil:
		return "name"
	case e.Deadline == nil:
		return "deadline"
	case e.Duration == nil:
		return "duration"
	case e.Weight == nil:
		return "weight"
	case e.Size == nil:
		return "size"
	case e.GroupWork == nil:
		return "group_work"
	case e.GroupSize == nil:
		return "group_size"
	}
	return ""
}

// Decode parses a task list. Every key is required; IDs and timestamps are
// left for the caller to assign.
func Decode(r io.Reader) ([]domain.Task, error) {
	var entries []entry
	dec := json.NewDecoder(r)
	if err := dec.Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse task list: %w", err)
	}
	tasks := make([]domain.Task, 0, len(entries))
	for i, e := range entries {
		if key := e.missing(); key != "" {
			return nil, fmt.Errorf("task %d: missing %s", i, key)
		}
		tasks = append(tasks, domain.Task{
			Subject:   *e.Subject,
			Name:      *e.Name,
			Deadline:  *e.Deadline,
			Duration:  *e.Duration,
			Weight:    *e.Weight,
			Size:      *e.Size,
			GroupWork: *e.GroupWork,
			GroupSize: *e.GroupSize,
		})
	}
	return tasks, nil
}

// Load reads a task list file. A missing file is an empty list.
func Load(path string) ([]domain.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	tasks, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

// Encode writes tasks with four-space indentation. An empty list is "[]".
func Encode(w io.Writer, tasks []domain.Task) error {
	entries := make([]entry, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		entries = append(entries, entry{
			Subject: &t.Subject, Name: &t.Name, Deadline: &t.Deadline, Duration: &t.Duration,
			Weight: &t.Weight, Size: &t.Size, GroupWork: &t.GroupWork, GroupSize: &t.GroupSize,
		})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Save replaces the file at path, creating parent directories.
func Save(path string, tasks []domain.Task) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Encode(tmp, tasks); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
