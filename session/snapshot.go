package session

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"

	"github.com/axmq/axon/encoding"
)

const snapshotVersion = 1

// snapshot is the CBOR wire form of the inflight session state. Publishes
// are carried as their MQTT encoding so the snapshot stays stable across
// refactors of the in-memory packet structs.
type snapshot struct {
	Version     uint8             `cbor:"1,keyasint"`
	ClientID    string            `cbor:"2,keyasint"`
	OutgoingPub map[uint16][]byte `cbor:"3,keyasint"`
	OutgoingRel []uint16          `cbor:"4,keyasint"`
	IncomingPub []uint16          `cbor:"5,keyasint"`
}

// Snapshot serializes the inflight state to bytes the caller can carry to a
// new connection attempt with CleanStart false. Nothing is written to disk;
// storage, if any, stays with the caller.
func (s *State) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		Version:     snapshotVersion,
		ClientID:    s.clientID,
		OutgoingPub: make(map[uint16][]byte, len(s.outgoingPub)),
	}

	for id, p := range s.outgoingPub {
		var buf bytes.Buffer
		if err := p.Encode(&buf); err != nil {
			return nil, err
		}
		snap.OutgoingPub[id] = buf.Bytes()
	}
	for id := range s.outgoingRel {
		snap.OutgoingRel = append(snap.OutgoingRel, id)
	}
	for id := range s.incomingPub {
		snap.IncomingPub = append(snap.IncomingPub, id)
	}

	return cbor.Marshal(snap)
}

// Restore loads a snapshot taken from a previous connection. It must be
// called before ApplyConnAck so the restored identifiers are re-reserved
// when the allocator is installed.
func (s *State) Restore(data []byte) error {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Version != snapshotVersion {
		return ErrSnapshotVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, raw := range snap.OutgoingPub {
		pkt, err := encoding.ReadPacket(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		pub, ok := pkt.(*encoding.PublishPacket)
		if !ok {
			return encoding.ErrMalformedPacket
		}
		s.outgoingPub[id] = pub
	}
	for _, id := range snap.OutgoingRel {
		s.outgoingRel[id] = struct{}{}
	}
	for _, id := range snap.IncomingPub {
		s.incomingPub[id] = struct{}{}
	}

	return nil
}
