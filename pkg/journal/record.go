package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/nainya/docrev/pkg/notify"
)

const (
	// HeaderSize is the fixed size of a record header
	// Layout: Seq(8) + UnixNano(8) + TypeLen(2) + Reserved(2) + DataLen(4)
	HeaderSize = 24

	// maxRecordData bounds a single record so a corrupt length cannot force a huge read
	maxRecordData = 64 << 20
)

// Record is one journaled event
type Record struct {
	Seq  uint64      // Position in the journal, starting at 1
	At   time.Time   // When the record was written
	Type notify.Type // Event type, kept outside Data for cheap filtering
	Data []byte      // JSON encoded notify.Event
}

// Event decodes the journaled event. Payloads come back as generic JSON values.
func (r *Record) Event() (notify.Event, error) {
	var e notify.Event
	if err := json.Unmarshal(r.Data, &e); err != nil {
		return notify.Event{}, fmt.Errorf("%w: seq %d: %v", ErrCorrupted, r.Seq, err)
	}
	return e, nil
}

// Size returns the encoded size of the record
func (r *Record) Size() int {
	return HeaderSize + len(r.Type) + len(r.Data) + 4
}

// Encode serializes the record followed by a CRC32 of everything before it
// Format: [Header(24)] [Type] [Data] [CRC32(4)]
func (r *Record) Encode() []byte {
	buf := make([]byte, r.Size())

	binary.LittleEndian.PutUint64(buf[0:8], r.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.At.UnixNano()))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(len(r.Type)))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(r.Data)))

	off := HeaderSize
	off += copy(buf[off:], r.Type)
	off += copy(buf[off:], r.Data)

	binary.LittleEndian.PutUint32(buf[off:], crc32.ChecksumIEEE(buf[:off]))
	return buf
}

// bodyLen returns how many bytes follow the header, checksum included
func bodyLen(header []byte) (int, error) {
	typeLen := int(binary.LittleEndian.Uint16(header[16:18]))
	dataLen := int(binary.LittleEndian.Uint32(header[20:24]))
	if dataLen > maxRecordData {
		return 0, fmt.Errorf("%w: data length %d", ErrCorrupted, dataLen)
	}
	return typeLen + dataLen + 4, nil
}

// DecodeRecord deserializes a record and verifies its checksum
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < HeaderSize+4 {
		return nil, ErrTruncated
	}
	n, err := bodyLen(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if len(data) < HeaderSize+n {
		return nil, ErrTruncated
	}
	data = data[:HeaderSize+n]

	end := len(data) - 4
	if binary.LittleEndian.Uint32(data[end:]) != crc32.ChecksumIEEE(data[:end]) {
		return nil, ErrCorrupted
	}

	typeLen := int(binary.LittleEndian.Uint16(data[16:18]))
	r := &Record{
		Seq:  binary.LittleEndian.Uint64(data[0:8]),
		At:   time.Unix(0, int64(binary.LittleEndian.Uint64(data[8:16]))).UTC(),
		Type: notify.Type(data[HeaderSize : HeaderSize+typeLen]),
	}
	r.Data = make([]byte, end-HeaderSize-typeLen)
	copy(r.Data, data[HeaderSize+typeLen:end])
	return r, nil
}

// String returns a human-readable representation of the record
func (r *Record) String() string {
	return fmt.Sprintf("Journal[Seq=%d Type=%s At=%s Len=%d]", r.Seq, r.Type, r.At.Format(time.RFC3339), len(r.Data))
}
