// Package sinks implements event consumers: structured logging, broker
// publishing and an in-memory ring for the status API.
package sinks
