// Package publish uploads saved artifacts to S3-compatible object storage.
//
// Objects are keyed <prefix>/<recording id>/<params hash>/<file name>. The
// .npz bundle goes up before the JSON sidecar, so a visible sidecar implies
// a complete bundle.
package publish
