// Package app wires the studio together and runs it.
//
// NewApplication loads the configuration directory, sets up logging and
// builds the component graph (registry, event bus, credential store, OAuth
// manager, protocol client, deployment manager, execution engine, definitions
// watcher and HTTP API). Run then:
//
//  1. resolves deployments a previous process left DEPLOYING, according to
//     the configured recovery policy
//  2. applies the server definitions directory and, if enabled, watches it
//  3. starts the HTTP API and reports readiness to systemd when running
//     under a notify unit
//  4. blocks until the context ends and shuts down in reverse order
package app
