// Package daemon wires the queue, worker, hub, device-memory manager, and
// workflow machine into a single-instance background service with an HTTP
// API and a websocket progress endpoint.
package daemon
