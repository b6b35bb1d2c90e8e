package network

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/jackyliao123/ca3d/internal/world"
)

// Message types - Client → Server
const (
	MsgTypeAddChunk    = "add_chunk"
	MsgTypeRemoveChunk = "remove_chunk"
	MsgTypeUploadChunk = "upload_chunk"
	MsgTypeQueryChunk  = "query_chunk"
	MsgTypeSimControl  = "sim_control"
	MsgTypeSave        = "save"
	MsgTypeLoad        = "load"
	MsgTypePing        = "ping"
)

// Message types - Server → Client
const (
	MsgTypeWelcome     = "welcome"
	MsgTypeChunkInfo   = "chunk_info"
	MsgTypeWorldStatus = "world_status"
	MsgTypeSnapshot    = "snapshot"
	MsgTypeError       = "error"
	MsgTypePong        = "pong"
)

// ClientMessage represents any message from client to server
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage represents any message from server to client
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// --- Client Message Payloads ---

// ChunkPayload addresses a single chunk
type ChunkPayload struct {
	Pos world.Pos `json:"pos"`
}

// UploadChunkPayload carries a full cell payload for one chunk
type UploadChunkPayload struct {
	Pos   world.Pos `json:"pos"`
	Cells string    `json:"cells"` // base64, little-endian u32 per cell
}

// SimControlPayload adjusts the simulation stage
type SimControlPayload struct {
	Paused     *bool `json:"paused,omitempty"`
	Step       bool  `json:"step,omitempty"`
	Iterations *int  `json:"iterations,omitempty"`
}

// --- Server Message Payloads ---

// WelcomePayload is sent to client after successful connection
type WelcomePayload struct {
	OperatorID string      `json:"operator_id"`
	Username   string      `json:"username"`
	Status     WorldStatus `json:"status"`
}

// ChunkInfoPayload answers a chunk query
type ChunkInfoPayload struct {
	Pos       world.Pos `json:"pos"`
	Resident  bool      `json:"resident"`
	Neighbors uint32    `json:"neighbors,omitempty"`
	Offset    uint32    `json:"offset,omitempty"`
}

// WorldStatus summarizes the world each frame
type WorldStatus struct {
	Chunks     int    `json:"chunks"`
	Offsets    uint32 `json:"offsets"`
	Groups     int    `json:"groups"`
	Capacity   uint32 `json:"capacity"`
	Which      uint32 `json:"which"`
	Paused     bool   `json:"paused"`
	FrameCount uint64 `json:"frame_count"`
}

// SnapshotPayload reports the result of a save or load
type SnapshotPayload struct {
	Action string `json:"action"` // "save" or "load"
	Chunks int    `json:"chunks"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeCells packs cell values for transport.
func EncodeCells(cells []uint32) string {
	buf := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.LittleEndian.PutUint32(buf[4*i:], c)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeCells unpacks cell values, checking the expected cell count.
func DecodeCells(s string, want int) ([]uint32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cells: %w", err)
	}
	if len(buf) != 4*want {
		return nil, fmt.Errorf("decode cells: %d bytes, want %d", len(buf), 4*want)
	}
	cells := make([]uint32, want)
	for i := range cells {
		cells[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return cells, nil
}
