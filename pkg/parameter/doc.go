// Package parameter supplements the distilled secret/path/policy domain
// with the workspace-configuration record the original implementation
// keeps alongside them; see SPEC_FULL.md's supplemented-features section.
package parameter
