// SPDX-License-Identifier: LGPL-3.0-or-later

package content

import (
	"encoding/binary"
	"fmt"

	"github.com/sage-x-project/sage-mesh/errs"
)

// Announcement is the content-announcement payload: broadcast to every
// authenticated peer (no-ACK) whenever an item is published.
type Announcement struct {
	ID   string
	Size int
	Hash [32]byte
}

// Encode serializes an Announcement: idLen(u16 BE) | id | size(u32 BE) |
// hash(32).
func (a *Announcement) Encode() []byte {
	id := []byte(a.ID)
	buf := make([]byte, 0, 2+len(id)+4+32)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
	buf = append(buf, id...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(a.Size))
	buf = append(buf, a.Hash[:]...)
	return buf
}

// DecodeAnnouncement parses a content-announcement payload.
func DecodeAnnouncement(data []byte) (*Announcement, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: content announcement too short", errs.MalformedEnvelope)
	}
	idLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < idLen+4+32 {
		return nil, fmt.Errorf("%w: content announcement truncated", errs.MalformedEnvelope)
	}
	a := &Announcement{ID: string(data[:idLen])}
	data = data[idLen:]
	a.Size = int(binary.BigEndian.Uint32(data))
	data = data[4:]
	copy(a.Hash[:], data[:32])
	return a, nil
}

// Request is the content-request payload: asks the recipient to send
// content-data for ID.
type Request struct {
	ID string
}

// Encode serializes a Request: idLen(u16 BE) | id.
func (r *Request) Encode() []byte {
	id := []byte(r.ID)
	buf := make([]byte, 0, 2+len(id))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
	return append(buf, id...)
}

// DecodeRequest parses a content-request payload.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: content request too short", errs.MalformedEnvelope)
	}
	idLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < idLen {
		return nil, fmt.Errorf("%w: content request truncated", errs.MalformedEnvelope)
	}
	return &Request{ID: string(data[:idLen])}, nil
}

// Data is the content-data payload carrying one item's ciphertext,
// re-sealed for the requesting peer under its unicast session key by the
// caller (node.Core) before this is wrapped in an envelope — the bytes
// here are the plaintext content bytes once that outer seal is removed.
type Data struct {
	ID    string
	Bytes []byte
}

// Encode serializes a Data message: idLen(u16 BE) | id | bytes.
func (d *Data) Encode() []byte {
	id := []byte(d.ID)
	buf := make([]byte, 0, 2+len(id)+len(d.Bytes))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
	buf = append(buf, id...)
	return append(buf, d.Bytes...)
}

// DecodeData parses a content-data payload.
func DecodeData(data []byte) (*Data, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: content data too short", errs.MalformedEnvelope)
	}
	idLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < idLen {
		return nil, fmt.Errorf("%w: content data truncated", errs.MalformedEnvelope)
	}
	return &Data{ID: string(data[:idLen]), Bytes: data[idLen:]}, nil
}
