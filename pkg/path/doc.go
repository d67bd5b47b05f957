// Package path is exercised end to end by pkg/app's path facade; see
// path_test.go for the concrete register/update/delete scenarios.
package path
