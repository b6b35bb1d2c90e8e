package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackyliao123/ca3d/internal/network"
	"github.com/jackyliao123/ca3d/internal/store"
	"github.com/jackyliao123/ca3d/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Uploads carry a full
	// chunk payload in base64, so the limit is generous.
	maxMessageSize = 4 * store.PayloadCells * 2
)

// Connection represents a WebSocket connection to a control client
type Connection struct {
	// WebSocket connection
	ws *websocket.Conn

	// Server reference
	server *Server

	// Operator information (set after authentication)
	operator *models.Operator

	// Buffered channel for outbound messages
	send chan []byte

	// Is connection authenticated
	authenticated bool

	// Guards Close: both the read pump and server shutdown call it
	closeOnce sync.Once
}

// NewConnection creates a new connection
func NewConnection(ws *websocket.Conn, server *Server) *Connection {
	return &Connection{
		ws:            ws,
		server:        server,
		send:          make(chan []byte, 256),
		authenticated: false,
	}
}

// Handle manages the connection lifecycle
func (c *Connection) Handle() {
	// Set up connection parameters
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Start read and write pumps
	go c.writePump()
	c.readPump() // Blocking
}

// readPump pumps messages from the WebSocket connection to the server
func (c *Connection) readPump() {
	defer func() {
		c.Close()
	}()

	for {
		// Read message
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		// Parse message
		var clientMsg network.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			log.Printf("Failed to parse client message: %v", err)
			c.SendError("invalid_message", "Failed to parse message")
			continue
		}

		// Handle message based on type
		c.handleMessage(&clientMsg)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write message
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			// Send ping
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.server.ctx.Done():
			// Server shutting down
			return
		}
	}
}

// handleMessage routes messages to appropriate handlers
func (c *Connection) handleMessage(msg *network.ClientMessage) {
	switch msg.Type {
	case network.MsgTypeAddChunk:
		c.handleChunkEdit(msg.Payload, editAdd)

	case network.MsgTypeRemoveChunk:
		c.handleChunkEdit(msg.Payload, editRemove)

	case network.MsgTypeUploadChunk:
		c.handleUploadChunk(msg.Payload)

	case network.MsgTypeQueryChunk:
		c.handleChunkEdit(msg.Payload, editQuery)

	case network.MsgTypeSimControl:
		c.handleSimControl(msg.Payload)

	case network.MsgTypeSave:
		c.enqueue(edit{kind: editSave, reply: c})

	case network.MsgTypeLoad:
		c.enqueue(edit{kind: editLoad, reply: c})

	case network.MsgTypePing:
		c.handlePing()

	default:
		log.Printf("Unknown message type: %s", msg.Type)
		c.SendError("unknown_message_type", "Unknown message type")
	}
}

// handleChunkEdit handles add, remove and query requests, which all
// carry a bare position.
func (c *Connection) handleChunkEdit(payload json.RawMessage, kind editKind) {
	var chunkMsg network.ChunkPayload
	if err := json.Unmarshal(payload, &chunkMsg); err != nil {
		log.Printf("Failed to parse chunk payload: %v", err)
		c.SendError("invalid_chunk", "Invalid chunk payload")
		return
	}
	c.enqueue(edit{kind: kind, pos: chunkMsg.Pos, reply: c})
}

// handleUploadChunk handles cell payload uploads
func (c *Connection) handleUploadChunk(payload json.RawMessage) {
	var uploadMsg network.UploadChunkPayload
	if err := json.Unmarshal(payload, &uploadMsg); err != nil {
		log.Printf("Failed to parse upload payload: %v", err)
		c.SendError("invalid_upload", "Invalid upload payload")
		return
	}

	cells, err := network.DecodeCells(uploadMsg.Cells, store.PayloadCells)
	if err != nil {
		c.SendError("invalid_upload", err.Error())
		return
	}
	c.enqueue(edit{kind: editUpload, pos: uploadMsg.Pos, cells: cells, reply: c})
}

// handleSimControl handles simulation control requests
func (c *Connection) handleSimControl(payload json.RawMessage) {
	var ctl network.SimControlPayload
	if err := json.Unmarshal(payload, &ctl); err != nil {
		log.Printf("Failed to parse sim control payload: %v", err)
		c.SendError("invalid_sim_control", "Invalid sim control payload")
		return
	}
	c.enqueue(edit{kind: editSimControl, simCtl: ctl, reply: c})
}

// handlePing handles ping requests
func (c *Connection) handlePing() {
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypePong,
		Payload: map[string]interface{}{"timestamp": time.Now().Unix()},
	})
}

func (c *Connection) enqueue(e edit) {
	if !c.server.session.Enqueue(e) {
		c.SendError("queue_full", "Edit queue full, try again next frame")
	}
}

// SendMessage sends a message to the client
func (c *Connection) SendMessage(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	select {
	case c.send <- data:
	default:
		log.Printf("Send buffer full, dropping message")
	}
}

// SendError sends an error message to the client
func (c *Connection) SendError(code, message string) {
	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeError,
		Payload: network.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.server.session.RemoveConnection(c)

		// Close send channel
		close(c.send)

		// Close WebSocket connection
		c.ws.Close()
	})
}
