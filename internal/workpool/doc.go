// Package workpool runs indexed tasks on a fixed number of goroutines and
// collects their results by index.
//
// Map returns results in index order whatever order the tasks finish in. The
// first task error cancels the remaining tasks, and with one worker tasks run
// in order on the calling goroutine.
package workpool
