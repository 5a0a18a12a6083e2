// Package ws serves the renderer WebSocket.
//
// A client connects with the target page and viewport in the query string:
//
//	GET /renderer?target_url=<base64 url>&target_width=1280&target_height=720
//
// Optional parameters: every_nth_frame, capture_audio, capture_video,
// capture_mime, capture_frame_size.
//
// Message Types (Client → Server), text:
//   - {"category":"event","data":{"type":"mousedown","button":0}}
//   - {"category":"event","data":{"type":"mousemove","x":10,"y":20}}
//   - {"category":"event","data":{"type":"mouseup"}}
//   - {"category":"event","data":{"type":"wheel","delta":120}}
//   - {"category":"event","data":{"type":"keydown","key":"Enter"}} (and keyup)
//   - {"category":"event","data":{"type":"resize","w":1024,"h":768}}
//   - {"category":"command","data":{"type":"history","value":"back"}}
//
// Message Types (Server → Client):
//   - {"frame":"<base64 jpeg>"}: one screencast frame (text)
//   - {"cursor":"pointer"}: CSS cursor under the pointer (text)
//   - capture chunk: encoded audio/video bytes (binary)
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, ws.Config{WriteTimeout: 10 * time.Second}, logger)
//	router.GET("/renderer", handler.HandleConnection)
package ws
