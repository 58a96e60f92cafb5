// Package crawler holds the task, outcome and error types shared by the
// workers, the archive router and the storage backends, plus the small
// interfaces those subsystems are wired through.
package crawler
