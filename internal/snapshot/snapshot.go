// Package snapshot persists the resident chunk set and its cell
// payloads to Redis, so a world can survive a server restart.
package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/jackyliao123/ca3d/internal/store"
	"github.com/jackyliao123/ca3d/internal/world"
)

// Store reads and writes world snapshots under a single key prefix.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a snapshot store. The prefix namespaces this world's
// keys; one key per chunk, named prefix + "x:y:z".
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(pos world.Pos) string {
	return fmt.Sprintf("%s%d:%d:%d", s.prefix, pos.X, pos.Y, pos.Z)
}

// parseKey recovers a chunk position from a snapshot key. Keys come
// from an external store, so anything short of an exact, in-range
// "x:y:z" suffix is an error, never a panic downstream.
func (s *Store) parseKey(key string) (world.Pos, error) {
	parts := strings.Split(key[len(s.prefix):], ":")
	if len(parts) != 3 {
		return world.Pos{}, fmt.Errorf("snapshot: malformed key %q", key)
	}
	var coords [3]int32
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return world.Pos{}, fmt.Errorf("snapshot: malformed key %q: %w", key, err)
		}
		coords[i] = int32(v)
	}
	pos := world.Pos{X: coords[0], Y: coords[1], Z: coords[2]}
	if !pos.InAtlasRange() {
		return world.Pos{}, fmt.Errorf("snapshot: key %q outside world bounds", key)
	}
	return pos, nil
}

// Save writes every resident chunk's current payload. The previous
// snapshot under the same prefix is replaced. Requires a clean manager
// and a device with readback support.
func (s *Store) Save(ctx context.Context, mgr *world.Manager) (int, error) {
	if err := s.clear(ctx); err != nil {
		return 0, err
	}

	var chunks []world.Pos
	mgr.ForEach(func(pos world.Pos, neighbors, offset uint32) {
		chunks = append(chunks, pos)
	})

	for _, pos := range chunks {
		cells, err := mgr.ReadPayload(pos)
		if err != nil {
			return 0, fmt.Errorf("snapshot: read chunk %v: %w", pos, err)
		}
		if err := s.client.Set(ctx, s.key(pos), encodeCells(cells), 0).Err(); err != nil {
			return 0, fmt.Errorf("snapshot: save chunk %v: %w", pos, err)
		}
	}
	log.Printf("Snapshot saved: %d chunks under %s*", len(chunks), s.prefix)
	return len(chunks), nil
}

// Load replaces the resident chunk set with the snapshot's: current
// chunks are removed, snapshot chunks inserted and finalized, then
// payloads uploaded at their assigned offsets.
func (s *Store) Load(ctx context.Context, mgr *world.Manager) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}

	payloads := make(map[world.Pos][]uint32, len(keys))
	for _, key := range keys {
		pos, err := s.parseKey(key)
		if err != nil {
			return 0, err
		}
		if _, dup := payloads[pos]; dup {
			return 0, fmt.Errorf("snapshot: duplicate key for chunk %v", pos)
		}
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return 0, fmt.Errorf("snapshot: load chunk %v: %w", pos, err)
		}
		cells, err := decodeCells(raw)
		if err != nil {
			return 0, fmt.Errorf("snapshot: chunk %v: %w", pos, err)
		}
		payloads[pos] = cells
	}

	var existing []world.Pos
	mgr.ForEach(func(pos world.Pos, neighbors, offset uint32) {
		existing = append(existing, pos)
	})
	for _, pos := range existing {
		mgr.Remove(pos)
	}
	for pos := range payloads {
		mgr.Insert(pos)
	}
	if err := mgr.Finalize(); err != nil {
		return 0, fmt.Errorf("snapshot: %w", err)
	}
	for pos, cells := range payloads {
		mgr.Upload(pos, cells)
	}
	log.Printf("Snapshot loaded: %d chunks from %s*", len(payloads), s.prefix)
	return len(payloads), nil
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: scan keys: %w", err)
	}
	return keys, nil
}

func (s *Store) clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("snapshot: clear previous snapshot: %w", err)
	}
	return nil
}

func encodeCells(cells []uint32) []byte {
	buf := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.LittleEndian.PutUint32(buf[4*i:], c)
	}
	return buf
}

func decodeCells(raw []byte) ([]uint32, error) {
	if len(raw) != 4*store.PayloadCells {
		return nil, fmt.Errorf("payload of %d bytes, want %d", len(raw), 4*store.PayloadCells)
	}
	cells := make([]uint32, store.PayloadCells)
	for i := range cells {
		cells[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return cells, nil
}
