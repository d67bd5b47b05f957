/*
Package log provides structured logging for Nebula using zerolog.

The global Logger is configured once via Init with a level and an output
format (JSON for production, console-pretty for local development). Call
sites that want request or resource context attached use one of the
child-logger helpers instead of fields on the global logger directly:

	log.WithComponent("httpapi").Info().Msg("router initialized")
	log.WithGid(claim.Gid).Info().Str("workspace", name).Msg("secret read")
	log.WithPath(p).Warn().Err(err).Msg("policy evaluation failed")

Each helper returns a zerolog.Logger with the corresponding field already
set, so callers chain .Info()/.Warn()/.Error() as usual. The package-level
Info/Debug/Warn/Error/Errorf/Fatal functions log against the unadorned
global Logger, for call sites that have no natural component or resource
context to attach; cmd/nebula-server logs its startup and shutdown
messages through log.WithComponent("server") instead.

Init must run before any other package in the process logs; main()
calls it from cobra.OnInitialize before any subcommand's RunE executes.
*/
package log
