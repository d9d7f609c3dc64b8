package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Blob layout, version 1. The fixed header lets the Lua scripts in store.go
// flip status and ended-at without decoding the variable part.
//
//	[0]      version
//	[1]      status
//	[2]      end reason code
//	[3:11]   ended-at, unix ms, big endian
//	[11:19]  created-at, unix ms
//	[19:27]  last-seen-at, unix ms
//	[27]     len(user id), user id
//	         len(family id), family id
//	         uint16 len(user agent), user agent
//	         len(ip), ip
const (
	formatVersion = 1
	headerSize    = 27

	maxUserAgentBytes = 512
)

var errCorrupt = errors.New("session: corrupt blob")

// Encode serializes s. Long user agents are truncated, not rejected.
func Encode(s *Session) ([]byte, error) {
	reason, ok := s.EndReason.code()
	if !ok {
		return nil, fmt.Errorf("session: unknown end reason %q", s.EndReason)
	}
	if s.Status != StatusActive && s.Status != StatusEnded {
		return nil, fmt.Errorf("session: invalid status %d", s.Status)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(s.UserID) + len(s.FamilyID) + len(s.UserAgent) + len(s.IP) + 5)

	buf.WriteByte(formatVersion)
	buf.WriteByte(byte(s.Status))
	buf.WriteByte(reason)
	writeMillis(&buf, s.EndedAt)
	writeMillis(&buf, s.CreatedAt)
	writeMillis(&buf, s.LastSeenAt)

	if err := writeShort(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, "familyID", s.FamilyID); err != nil {
		return nil, err
	}

	ua := s.UserAgent
	if len(ua) > maxUserAgentBytes {
		ua = ua[:maxUserAgentBytes]
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(ua)))
	buf.WriteString(ua)

	if err := writeShort(&buf, "ip", s.IP); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. ID is not part of the blob and
// is left empty.
func Decode(data []byte) (*Session, error) {
	if len(data) < headerSize+2 {
		return nil, errCorrupt
	}
	if data[0] != formatVersion {
		return nil, fmt.Errorf("session: unsupported format version %d", data[0])
	}

	if int(data[2]) >= len(endReasonCodes) {
		return nil, errCorrupt
	}
	s := &Session{
		Status:     Status(data[1]),
		EndReason:  endReasonFromCode(data[2]),
		EndedAt:    readMillis(data[3:11]),
		CreatedAt:  readMillis(data[11:19]),
		LastSeenAt: readMillis(data[19:27]),
	}
	if s.Status != StatusActive && s.Status != StatusEnded {
		return nil, errCorrupt
	}

	r := bytes.NewReader(data[headerSize:])
	var err error
	if s.UserID, err = readShort(r); err != nil {
		return nil, err
	}
	if s.FamilyID, err = readShort(r); err != nil {
		return nil, err
	}

	var uaLen uint16
	if err := binary.Read(r, binary.BigEndian, &uaLen); err != nil {
		return nil, errCorrupt
	}
	if uaLen > maxUserAgentBytes {
		return nil, errCorrupt
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(r, ua); err != nil {
		return nil, errCorrupt
	}
	s.UserAgent = string(ua)

	if s.IP, err = readShort(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errCorrupt
	}

	return s, nil
}

func writeMillis(buf *bytes.Buffer, t time.Time) {
	var ms int64
	if !t.IsZero() {
		ms = t.UnixMilli()
	}
	_ = binary.Write(buf, binary.BigEndian, ms)
}

func readMillis(b []byte) time.Time {
	ms := int64(binary.BigEndian.Uint64(b))
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func writeShort(buf *bytes.Buffer, field, v string) error {
	if len(v) > 255 {
		return fmt.Errorf("session: %s too long", field)
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", errCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errCorrupt
	}
	return string(b), nil
}
