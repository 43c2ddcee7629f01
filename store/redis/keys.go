package redis

// Redis key naming conventions for latch data.
// All keys are prefixed with "latch:" to avoid collisions.

const keyPrefix = "latch:"

// jobKey returns the key for a job hash: latch:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the List tracking all job IDs in creation order.
const jobIDsKey = keyPrefix + "job_ids"

// prereqsKey returns the List of prerequisite IDs for a dependent, in
// edge insertion order: latch:prereqs:{dependentID}
func prereqsKey(dependentID string) string { return keyPrefix + "prereqs:" + dependentID }

// dependentsKey returns the List of dependent IDs for a prerequisite, in
// edge insertion order: latch:dependents:{prerequisiteID}
func dependentsKey(prerequisiteID string) string { return keyPrefix + "dependents:" + prerequisiteID }

// edgesKey is the Set of "dependent|prerequisite" pairs for duplicate
// edge detection.
const edgesKey = keyPrefix + "edges"

// dlqKey returns the key for a DLQ entry hash: latch:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the List tracking all DLQ entry IDs in push order.
const dlqIDsKey = keyPrefix + "dlq_ids"
