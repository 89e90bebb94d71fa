// Package server is a helper package for creating a clusterkit server.
//
// It starts the services a cluster needs: an embedded nats server (with
// JetStream) and the object store, including the namespace collector.
//
// Tests use [Test] to get a fresh server per test.
package server
