// Package app implements C11: the root Application composing every
// process-wide service, and the per-workspace facade handlers use to
// reach path/policy/secret/parameter/authority use-cases.
package app
