package notifx

import "time"

// Frame types, numerically identical to RFC 6455 opcodes and to the
// constants of the websocket packages.
const (
	TextMessage  = 1
	CloseMessage = 8
	PingMessage  = 9
	PongMessage  = 10
)

// Conn is the transport handle of one client. *websocket.Conn from
// gofiber/websocket satisfies it. WriteControl and Close may be called
// concurrently with the other methods; the rest are used by one goroutine
// each (reads by the read pump, writes by the write pump).
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}
