// Package ws serves the module shell over WebSocket.
//
// Message Types (Client → Server):
//   - exec: run one msh command line ("line")
//   - wait: block until a module exits ("module", optional "timeout")
//   - ping: keep-alive
//
// Message Types (Server → Client):
//   - system: greeting with the prompt
//   - output: command output and its return code
//   - exited: a waited module's return code
//   - pong
//   - error
//
// Example Usage:
//
//	handler := ws.NewHandler(mgr, logger, time.Minute)
//	router.GET("/shell", handler.HandleConnection)
package ws
