// Package task runs units of work against the engine through a bounded
// backlog. It provides the worker pool, the outcome classification shared by
// every snippet, the retry sink for transient failures, and the three
// pipeline drivers: batch, continuous and single-consumer streaming.
package task
