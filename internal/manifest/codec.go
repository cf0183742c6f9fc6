package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Codec encodes manifest entries.
//
// Entry format:
// - total entry length (uint32, excludes itself)
// - generation (uint64)
// - filename length (uint32) + filename
// - checksum
type Codec struct{}

func (c *Codec) EncodeEntry(entry *Entry) ([]byte, error) {
	body := bytes.Buffer{}

	if err := binary.Write(&body, binary.BigEndian, entry.Generation); err != nil {
		return nil, fmt.Errorf("failed to encode generation: %w", err)
	}
	if err := binary.Write(&body, binary.BigEndian, uint32(len(entry.Filename))); err != nil {
		return nil, fmt.Errorf("failed to encode filename length: %w", err)
	}
	if _, err := body.WriteString(entry.Filename); err != nil {
		return nil, fmt.Errorf("failed to encode filename: %w", err)
	}

	buf := bytes.Buffer{}
	if err := binary.Write(&buf, binary.BigEndian, uint32(body.Len()+crc32.Size)); err != nil {
		return nil, fmt.Errorf("failed to encode total entry length: %w", err)
	}
	checksum := crc32.ChecksumIEEE(body.Bytes())
	buf.Write(body.Bytes())
	if err := binary.Write(&buf, binary.BigEndian, checksum); err != nil {
		return nil, fmt.Errorf("failed to encode checksum: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeEntry reads the next entry from reader. A clean end of input is
// reported as io.EOF; a partial or damaged entry as io.ErrUnexpectedEOF.
func (c *Codec) DecodeEntry(reader io.Reader) (*Entry, int, error) {
	header := make([]byte, 4)
	if n, err := io.ReadFull(reader, header); err == io.EOF {
		return nil, 0, io.EOF
	} else if err != nil {
		return nil, n, io.ErrUnexpectedEOF
	}

	totalLen := binary.BigEndian.Uint32(header)
	if totalLen < crc32.Size+12 {
		return nil, 4, io.ErrUnexpectedEOF
	}

	data := make([]byte, totalLen)
	if n, err := io.ReadFull(reader, data); err != nil {
		return nil, 4 + n, io.ErrUnexpectedEOF
	}

	body := data[:totalLen-crc32.Size]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[totalLen-crc32.Size:]) {
		return nil, 4 + int(totalLen), io.ErrUnexpectedEOF
	}

	generation := binary.BigEndian.Uint64(body[0:8])
	nameLen := binary.BigEndian.Uint32(body[8:12])
	if int(nameLen) != len(body)-12 {
		return nil, 4 + int(totalLen), io.ErrUnexpectedEOF
	}

	return &Entry{
		Generation: generation,
		Filename:   string(body[12:]),
	}, 4 + int(totalLen), nil
}
