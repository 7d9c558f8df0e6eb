package redis

// Redis key naming conventions. All keys are prefixed with "incidents:" to
// avoid collisions.

const keyPrefix = "incidents:"

// ── Job keys ──

// jobKeyPrefix prefixes job hashes; the dequeue script appends the id.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: incidents:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// queueKey returns the Sorted Set key for a queue: incidents:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queueNamesKey is the Set of queue names ever enqueued to.
const queueNamesKey = keyPrefix + "queues"

// ── Lock keys ──

// cronLockKey returns the lease key of a cron entry: incidents:cron:{name}
func cronLockKey(name string) string { return keyPrefix + "cron:" + name }

// incidentLockKey returns the lock key of an incident: incidents:lock:{id}
func incidentLockKey(incidentID string) string { return keyPrefix + "lock:" + incidentID }
