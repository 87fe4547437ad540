// Package definitions registers servers declared as YAML files and keeps
// them in sync while the process runs.
//
// Each file in the servers directory declares one server:
//
//	name: weather
//	description: Weather lookups
//	deploy: true
//	config:
//	  transport: http
//	  endpoint: https://weather.example.com/mcp
//	  auth:
//	    type: oauth2
//	    integration: weather-api
//
// Creating a file registers the server (and deploys it when deploy is set),
// editing it updates the descriptive fields, and removing it deregisters the
// server. Servers registered through the API are never touched.
package definitions
