//go:build cgo

package store

// go-libsql links the C libsql library and only builds with cgo.
import _ "github.com/tursodatabase/go-libsql"
