// Package server exposes mcpstudio over HTTP.
//
// The handlers are a thin adapter over the deployment manager, the execution
// engine, the OAuth manager and the event bus; all business rules live in
// those packages. Errors are rendered from api.Describe so clients see the
// same ErrorDescriptor that execution records persist.
//
// # Endpoints
//
//	GET    /health
//	GET    /api/v1/servers
//	POST   /api/v1/servers
//	GET    /api/v1/servers/{server}
//	PATCH  /api/v1/servers/{server}
//	DELETE /api/v1/servers/{server}
//	POST   /api/v1/servers/{server}/deploy[?wait=true]
//	POST   /api/v1/servers/{server}/undeploy
//	GET    /api/v1/servers/{server}/tools
//	POST   /api/v1/servers/{server}/tools
//	GET    /api/v1/servers/{server}/tools/{tool}
//	DELETE /api/v1/servers/{server}/tools/{tool}
//	POST   /api/v1/servers/{server}/tools/{tool}/execute
//	GET    /api/v1/servers/{server}/resources
//	GET    /api/v1/servers/{server}/prompts
//	POST   /api/v1/servers/{server}/prompts
//	POST   /api/v1/servers/{server}/prompts/{prompt}/render
//	GET    /api/v1/executions
//	GET    /api/v1/executions/{id}
//	GET    /api/v1/integrations
//	POST   /api/v1/integrations/{integration}/authorize
//	GET    /api/v1/integrations/{integration}/credentials
//	GET    /api/v1/integrations/{integration}/credentials/{account}
//	DELETE /api/v1/integrations/{integration}/credentials/{account}
//	GET    /oauth/callback
//	GET    /ws/events?pattern=servers.*
//
// {server} accepts a server id or a server name.
//
// # Events
//
// /ws/events upgrades to a websocket and forwards every bus event matching
// pattern as a JSON text message. The subscription is removed when the peer
// disconnects. A subscriber that falls behind receives a final
// SubscriberOverflow event and the socket is closed with status 1008.
package server
