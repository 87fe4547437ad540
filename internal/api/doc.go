// Package api holds the domain model shared by every mcpstudio component:
// servers and their deployment states, tools with their parameter schemas,
// resources, prompt templates, credentials, execution records, event payloads
// and the error taxonomy.
//
// The package has no dependencies on other internal packages except
// internal/schema, so registries, transports and services can all import it
// without cycles.
//
// # Error taxonomy
//
// Failures are typed so callers can branch with errors.As:
//   - ValidationError: schema violations, raised before any network traffic
//   - ConnectError: the server is unreachable or the connection was lost
//   - TimeoutError: an invocation exceeded its deadline
//   - DiscoveryError: listing capabilities failed
//   - InvocationError: the remote tool reported a failure
//   - AuthError: a credential is unavailable (reauthorization_required or transient)
//   - SubscriberOverflowError: an event subscriber fell behind and was dropped
//   - NotFoundError and ConflictError for registry lookups and state conflicts
//
// Describe maps any of these to an ErrorDescriptor, the form persisted on
// execution records and returned by the HTTP API.
package api
