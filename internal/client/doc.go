// Package client is a typed client for the mcpstudio HTTP API.
//
// Every method maps to one endpoint of internal/server. Non-2xx responses are
// returned as *api.ErrorDescriptor, so callers branch on Kind exactly as they
// would on a locally produced error passed through api.Describe:
//
//	c := client.New("http://localhost:8090")
//	record, err := c.Execute(ctx, "weather", "getWeather", api.ExecuteToolRequest{
//	    Params: map[string]any{"location": "Paris"},
//	})
//	if d := api.Describe(err); d != nil && d.Kind == api.KindAuth {
//	    // reauthorize
//	}
//
// StreamEvents follows the /ws/events websocket until the context ends or
// the server closes the stream.
package client
