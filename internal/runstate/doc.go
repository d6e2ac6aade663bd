// Package runstate defines the run and window lifecycles of an analysis and
// validates every transition between them.
package runstate
