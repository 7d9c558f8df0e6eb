// Package redis supplies the Redis pieces of the engine: a job queue and
// cron lease store (Store) and a distributed per-incident lock (Locker).
// Jobs are Hashes indexed by one Sorted Set per queue; a Lua script claims
// runnable jobs atomically while skipping busy incidents.
//
// Either piece can front any of the document or SQL stores:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	jobs := redisstore.New(client)
//	locker := redisstore.NewLocker(client)
//
// The caller owns the Redis client lifecycle.
package redis
