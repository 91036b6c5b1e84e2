package shared

// CalendarSyncLockKey is the Redis key guarding calendar sync runs across
// processes.
const CalendarSyncLockKey = "calsync:lock"

// PartitionHeader carries the desktop-shell session partition of the agent.
const PartitionHeader = "X-Session-Partition"
