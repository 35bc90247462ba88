// Package integration provides a qanchor-specific testing harness crafting
// and executing integration tests by driving a qanchor daemon instance as a
// child process.
//
// This package was designed specifically to act as a process-level testing
// harness. However, the constructs presented are general enough to be adapted
// to any project wishing to programmatically drive a qanchor daemon instance.
package integration
