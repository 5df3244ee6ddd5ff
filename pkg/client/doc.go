// Package client is a Go SDK for a treequeue gateway: typed methods
// for submitting and reading tasks, admin worker listing, and a
// WebSocket stream of lifecycle events.
//
// # Basic usage
//
//	c, err := client.New("http://localhost:8080", client.WithAPIKey("secret"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := c.SubmitTask(ctx, map[string]interface{}{"to": "user@example.com"})
//
// # Events
//
//	ch, err := c.Events(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	for event := range ch {
//	    fmt.Printf("event: %s\n", event.Type)
//	}
package client
