// Package cron runs periodic maintenance for the incident engine, such as
// the stale-incident sweep.
//
// Entries are registered in process with a cron expression parsed by
// github.com/robfig/cron/v3 (standard five fields or descriptors like
// "@every 1m"). Every engine process runs the same entries; a per-entry
// lock in the store makes sure only one process fires a given tick.
//
//	s := cron.NewScheduler(store, registry, workerID, logger)
//	_ = s.Register(cron.Entry{
//	    Name:     "stale-sweep",
//	    Schedule: "@every 1m",
//	    Task:     func(ctx context.Context) error { _, err := runner.SweepStale(ctx); return err },
//	})
//
// The ext.CronFired hook fires after each run.
package cron
