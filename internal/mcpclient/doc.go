// Package mcpclient connects mcpstudio to remote MCP servers.
//
// A Client keeps at most one live Handle per server. Handles speak MCP
// streamable HTTP (through mcp-go), JSON-RPC over a persistent websocket, or
// both at once: the websocket carries discovery and health traffic, HTTP
// carries tool calls, and the handle falls back to HTTP when the websocket
// goes away.
//
// Invoke validates parameters against the handle's tool catalogue before
// anything is sent. Per-call timeouts never close the shared connection;
// the handle is probed before its next use instead, and a failed probe is
// reported to OnConnectionLost listeners.
//
// Outbound credentials come from a CredentialSource (the OAuth manager) or
// from a credential bound to the call's context with WithCredential.
package mcpclient
