// Package textutil turns recording names into the short, file-safe tokens
// used for exported artifact names.
package textutil
