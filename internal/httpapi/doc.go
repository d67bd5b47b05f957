// Package httpapi is composed by cmd/nebula-server; spec.md explicitly
// treats HTTP routing and JSON shapes as external to the core, so this
// package owns those choices and leaves every domain decision to pkg/app
// and the use-cases it wraps.
package httpapi
