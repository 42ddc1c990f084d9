// Package client provides a typed HTTP client for the relay API. It mirrors
// the server's wire format with its own request and response types, so
// consumers never import the server implementation.
//
// Event streams are consumed through EventStream, a pull-style iterator over
// the Server-Sent Events of one response:
//
//	stream, err := c.Chat(ctx, sessionID, "hello")
//	if err != nil {
//		// handle error
//	}
//	defer stream.Close()
//	for stream.Next() {
//		ev := stream.Event()
//		// render ev
//	}
//	if err := stream.Err(); err != nil {
//		// handle transport error
//	}
package client
