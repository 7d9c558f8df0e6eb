package cron

import (
	"context"
	"time"
)

// Task is the work an entry performs when it fires.
type Task func(ctx context.Context) error

// Entry is a named periodic task.
type Entry struct {
	Name     string
	Schedule string
	Task     Task

	// Disabled entries stay registered but never fire.
	Disabled bool

	LastRunAt *time.Time
	NextRunAt *time.Time
	LastError string
}
