// Package timeouts defines shared timeout constants used by service processes.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// Command caps how long an HTTP handler waits for a session to process one
// command before giving up.
const Command = 3 * time.Second

// WSWrite caps a single WebSocket frame write so a stalled peer cannot pin
// its writer goroutine.
const WSWrite = 5 * time.Second

// WSKeepAlive is the idle interval after which the server pings a WebSocket
// peer.
const WSKeepAlive = 15 * time.Second
