// Package queue limits how fast and how many resumption jobs run.
//
// Jobs carry a Queue field and a Name (their kind, such as
// "batch.completed"). The worker pool polls the queues listed in
// [manager.Config.Queues] and asks a [Manager] before running each job.
//
// # Per-Queue Configuration
//
//	queue.Config{
//	    Name:           "default",
//	    MaxConcurrency: 20,
//	    RateLimit:      50,
//	    RateBurst:      100,
//	}
//
// # Per-Kind Configuration
//
// A kind limit caps one job kind inside a queue. Starting incidents calls
// the decision oracle right away, so it is the usual candidate:
//
//	m.SetKindConfig(queue.KindConfig{
//	    QueueName: "default",
//	    Kind:      job.NameStartIncident,
//	    RateLimit: 2,
//	})
//
// Queues and kinds without a config have no limits beyond the pool-wide
// concurrency.
package queue
