// Package migrate is invoked once at startup by cmd/nebula-server and
// standalone by cmd/nebula-migrate.
package migrate
