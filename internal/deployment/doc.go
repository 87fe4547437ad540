// Package deployment drives the lifecycle of registered servers:
//
//	NOT_DEPLOYED --deploy--> DEPLOYING --success--> DEPLOYED
//	                             |                   |  |
//	                             +--failure--> FAILED <--+ connection lost
//
// DEPLOYED and FAILED may deploy again. Every transition is a single
// compare-and-set in the registry, so a server is never observed with a
// deployment URL outside DEPLOYED or with half of its capabilities replaced.
// A deployment replaces the discovered tools, resources and prompts; only
// user authored tools and prompt templates are carried over.
//
// Servers left DEPLOYING by a crashed process are resolved by Recover, which
// marks them FAILED and optionally deploys them again.
package deployment
