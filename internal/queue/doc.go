// Package queue schedules background downloads.
//
// It owns a strict priority queue (FIFO within a priority tier), a bounded
// pool of concurrent executions, and the task table. Lifecycle transitions
// are announced on the event bus so unrelated components (history, UI,
// notifications) can react without being coupled to the scheduler.
package queue
