package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

// Codec is responsible for encoding and decoding records written to
// and read from a log
type Codec struct{}

// Encoding record format:
// - total record length (uint32, excludes itself)
// - id (uint64)
// - kind (int8)
// - do id (uint64)
// - prev id (uint64)
// - label length (uint32) + label
// - timestamp (int64, unix nanos)
// { if prepare }
//   - change count (uint32)
//   - per change: key length + key, old value, new value
//     (value = present byte, then length + bytes when present)
// { if commit }
//   - state entry count (uint32)
//   - per entry in key order: key length + key, scalar tag, scalar value
// { /if }
// - checksum

const (
	tagString byte = 's'
	tagInt    byte = 'i'
	tagFloat  byte = 'f'
	tagBool   byte = 'b'

	// FrameHeaderLen is the size of the length prefix on each encoded record
	FrameHeaderLen = 4
)

// Encode encodes the record into a length prefixed, checksummed frame
func (c *Codec) Encode(record *Record) ([]byte, error) {
	if !record.Kind.Valid() {
		return nil, fmt.Errorf("cannot encode record with unknown kind %d", record.Kind)
	}

	body := bytes.Buffer{}
	if err := binary.Write(&body, binary.BigEndian, record.ID); err != nil {
		return nil, fmt.Errorf("failed to encode id: %w", err)
	}
	if err := binary.Write(&body, binary.BigEndian, int8(record.Kind)); err != nil {
		return nil, fmt.Errorf("failed to encode kind: %w", err)
	}
	if err := binary.Write(&body, binary.BigEndian, record.DoID); err != nil {
		return nil, fmt.Errorf("failed to encode do id: %w", err)
	}
	if err := binary.Write(&body, binary.BigEndian, record.PrevID); err != nil {
		return nil, fmt.Errorf("failed to encode prev id: %w", err)
	}
	if err := writeString(&body, record.Label); err != nil {
		return nil, fmt.Errorf("failed to encode label: %w", err)
	}
	if err := binary.Write(&body, binary.BigEndian, record.Timestamp.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to encode timestamp: %w", err)
	}

	if record.Kind.IsPrepare() {
		if err := c.encodeChanges(&body, record.Changes); err != nil {
			return nil, err
		}
	} else {
		if err := c.encodeState(&body, record.State); err != nil {
			return nil, err
		}
	}

	buf := bytes.Buffer{}
	if err := binary.Write(&buf, binary.BigEndian, uint32(body.Len()+crc32.Size)); err != nil {
		return nil, fmt.Errorf("failed to encode total record length: %w", err)
	}
	checksum := crc32.ChecksumIEEE(body.Bytes())
	if _, err := body.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to copy record body: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, checksum); err != nil {
		return nil, fmt.Errorf("failed to encode checksum: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *Codec) encodeChanges(buf *bytes.Buffer, changes []Change) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(changes))); err != nil {
		return fmt.Errorf("failed to encode change count: %w", err)
	}

	for _, change := range changes {
		if err := writeString(buf, change.Key); err != nil {
			return fmt.Errorf("failed to encode change key: %w", err)
		}
		if err := writeOptional(buf, change.Old); err != nil {
			return fmt.Errorf("failed to encode old value of %s: %w", change.Key, err)
		}
		if err := writeOptional(buf, change.New); err != nil {
			return fmt.Errorf("failed to encode new value of %s: %w", change.Key, err)
		}
	}

	return nil
}

func (c *Codec) encodeState(buf *bytes.Buffer, state State) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(state))); err != nil {
		return fmt.Errorf("failed to encode state size: %w", err)
	}

	// Sorted so that identical states always encode to identical bytes
	for _, key := range state.Keys() {
		if err := writeString(buf, key); err != nil {
			return fmt.Errorf("failed to encode state key: %w", err)
		}

		var err error
		switch v := state[key].(type) {
		case string:
			if err = buf.WriteByte(tagString); err == nil {
				err = writeString(buf, v)
			}
		case int64:
			if err = buf.WriteByte(tagInt); err == nil {
				err = binary.Write(buf, binary.BigEndian, v)
			}
		case float64:
			if err = buf.WriteByte(tagFloat); err == nil {
				err = binary.Write(buf, binary.BigEndian, v)
			}
		case bool:
			if err = buf.WriteByte(tagBool); err == nil {
				err = binary.Write(buf, binary.BigEndian, v)
			}
		default:
			return fmt.Errorf("cannot encode state value %s of type %T", key, v)
		}
		if err != nil {
			return fmt.Errorf("failed to encode state value %s: %w", key, err)
		}
	}

	return nil
}

// FrameLength reads the length prefix of an encoded frame and returns the
// total size of the frame, prefix included
func FrameLength(header []byte) int {
	return FrameHeaderLen + int(binary.BigEndian.Uint32(header[:FrameHeaderLen]))
}

// Decode takes an encoded frame and decodes it into a record. Any frame
// that cannot be decoded yields an error wrapping ErrCorruptRecord.
func (c *Codec) Decode(frame []byte) (*Record, error) {
	record, err := c.decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return record, nil
}

func (c *Codec) decode(frame []byte) (*Record, error) {
	reader := bytes.NewReader(frame)

	var totalLen uint32
	if err := binary.Read(reader, binary.BigEndian, &totalLen); err != nil {
		return nil, fmt.Errorf("failed to read record length: %w", err)
	}
	if totalLen < crc32.Size {
		return nil, fmt.Errorf("record length %d shorter than checksum", totalLen)
	}

	data := make([]byte, totalLen)
	if n, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("failed to read expected amount of data from log."+
			" read=%d, expected=%d: %v", n, len(data), err)
	}

	body := data[0:(totalLen - crc32.Size)]
	expectedChecksum := binary.BigEndian.Uint32(data[(totalLen - crc32.Size):])
	if actualChecksum := crc32.ChecksumIEEE(body); actualChecksum != expectedChecksum {
		return nil, fmt.Errorf("expected checksum of record does not match! expected=%d, "+
			"actual=%d", expectedChecksum, actualChecksum)
	}

	dataReader := bytes.NewReader(body)
	record := &Record{}

	if err := binary.Read(dataReader, binary.BigEndian, &record.ID); err != nil {
		return nil, fmt.Errorf("failed to read id: %w", err)
	}

	var rawKind int8
	if err := binary.Read(dataReader, binary.BigEndian, &rawKind); err != nil {
		return nil, fmt.Errorf("failed to read kind: %w", err)
	}
	record.Kind = Kind(rawKind)
	if !record.Kind.Valid() {
		return nil, fmt.Errorf("unknown record kind %d", rawKind)
	}

	if err := binary.Read(dataReader, binary.BigEndian, &record.DoID); err != nil {
		return nil, fmt.Errorf("failed to read do id: %w", err)
	}
	if err := binary.Read(dataReader, binary.BigEndian, &record.PrevID); err != nil {
		return nil, fmt.Errorf("failed to read prev id: %w", err)
	}

	label, err := readString(dataReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read label: %w", err)
	}
	record.Label = label

	var nanos int64
	if err := binary.Read(dataReader, binary.BigEndian, &nanos); err != nil {
		return nil, fmt.Errorf("failed to read timestamp: %w", err)
	}
	record.Timestamp = time.Unix(0, nanos).UTC()

	if record.Kind.IsPrepare() {
		if record.Changes, err = c.decodeChanges(dataReader); err != nil {
			return nil, err
		}
	} else {
		if record.State, err = c.decodeState(dataReader); err != nil {
			return nil, err
		}
	}

	if dataReader.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after record body", dataReader.Len())
	}

	return record, nil
}

func (c *Codec) decodeChanges(reader *bytes.Reader) ([]Change, error) {
	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read change count: %w", err)
	}

	var changes []Change
	for i := uint32(0); i < count; i++ {
		key, err := readString(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read change key: %w", err)
		}
		old, err := readOptional(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read old value of %s: %w", key, err)
		}
		value, err := readOptional(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read new value of %s: %w", key, err)
		}
		changes = append(changes, Change{Key: key, Old: old, New: value})
	}

	return changes, nil
}

func (c *Codec) decodeState(reader *bytes.Reader) (State, error) {
	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read state size: %w", err)
	}

	state := make(State, count)
	for i := uint32(0); i < count; i++ {
		key, err := readString(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read state key: %w", err)
		}

		tag, err := reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read state tag of %s: %w", key, err)
		}

		switch tag {
		case tagString:
			state[key], err = readString(reader)
		case tagInt:
			var v int64
			err = binary.Read(reader, binary.BigEndian, &v)
			state[key] = v
		case tagFloat:
			var v float64
			err = binary.Read(reader, binary.BigEndian, &v)
			state[key] = v
		case tagBool:
			var v bool
			err = binary.Read(reader, binary.BigEndian, &v)
			state[key] = v
		default:
			return nil, fmt.Errorf("unknown state tag %q for %s", tag, key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read state value of %s: %w", key, err)
		}
	}

	return state, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	if n, err := buf.WriteString(s); n != len(s) {
		return fmt.Errorf("failed to write full string to buffer. wrote=%d, len=%d", n, len(s))
	} else if err != nil {
		return err
	}
	return nil
}

func writeOptional(buf *bytes.Buffer, value []byte) error {
	if value == nil {
		return buf.WriteByte(0)
	}
	if err := buf.WriteByte(1); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(value))); err != nil {
		return err
	}
	if n, err := buf.Write(value); n != len(value) {
		return fmt.Errorf("failed to write full value to buffer. wrote=%d, len=%d", n, len(value))
	} else if err != nil {
		return err
	}
	return nil
}

func readBytes(reader *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if int64(length) > int64(reader.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", length, reader.Len())
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readString(reader *bytes.Reader) (string, error) {
	data, err := readBytes(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readOptional(reader *bytes.Reader) ([]byte, error) {
	present, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	switch present {
	case 0:
		return nil, nil
	case 1:
		return readBytes(reader)
	default:
		return nil, fmt.Errorf("invalid presence marker %d", present)
	}
}
