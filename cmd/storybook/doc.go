// Command storybook is the operator CLI for the storybook daemon.
//
// Most commands read the job database directly, so they work whether or not
// the daemon is running. `serve` runs the daemon in the foreground and
// `status` asks a running daemon for its health report over HTTP.
package main
