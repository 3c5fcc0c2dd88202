package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxItemHeaderSize bounds a single header line when reading envelopes, so a
// malformed stream cannot make the reader buffer unbounded input.
const maxItemHeaderSize = 1 << 20

// Parse reads a serialized envelope back into its header and items. Items of
// unknown type are kept with their payload bytes untouched.
func Parse(data []byte) (*Envelope, error) {
	return ParseFrom(bytes.NewReader(data))
}

// ParseFrom reads one envelope from r.
func ParseFrom(r io.Reader) (*Envelope, error) {
	br := bufio.NewReaderSize(r, 64<<10)

	headerLine, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope header: %w", err)
	}
	header := &EnvelopeHeader{}
	if err := json.Unmarshal(headerLine, header); err != nil {
		return nil, fmt.Errorf("malformed envelope header: %w", err)
	}

	envelope := NewEnvelope(header)
	for {
		item, err := readItem(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		envelope.Items = append(envelope.Items, item)
	}
	return envelope, nil
}

func readItem(br *bufio.Reader) (*EnvelopeItem, error) {
	headerLine, err := readLine(br)
	if err == io.EOF && len(headerLine) == 0 {
		return nil, io.EOF
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read item header: %w", err)
	}
	if len(bytes.TrimSpace(headerLine)) == 0 {
		// Trailing newline after the last item.
		return nil, io.EOF
	}

	header := &EnvelopeItemHeader{}
	if err := json.Unmarshal(headerLine, header); err != nil {
		return nil, fmt.Errorf("malformed item header: %w", err)
	}
	if header.Type == "" {
		return nil, fmt.Errorf("item header is missing type")
	}

	var payload []byte
	if header.Length != nil {
		length := *header.Length
		if length < 0 {
			return nil, fmt.Errorf("item %q declares negative length %d", header.Type, length)
		}
		payload = make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("item %q payload truncated: %w", header.Type, err)
		}
		// Consume the newline terminating the payload, tolerating EOF for
		// the final item.
		if b, err := br.ReadByte(); err == nil && b != '\n' {
			return nil, fmt.Errorf("item %q payload not newline-terminated", header.Type)
		}
	} else {
		// No declared length: payload runs to the next newline.
		payload, err = readLine(br)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read item %q payload: %w", header.Type, err)
		}
	}

	return &EnvelopeItem{Header: header, Payload: payload}, nil
}

// readLine returns the next line without its trailing newline. An EOF with
// partial content returns that content with a nil error; a bare EOF
// propagates.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			if len(line) > maxItemHeaderSize {
				return nil, fmt.Errorf("line exceeds %d bytes", maxItemHeaderSize)
			}
			continue
		}
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		}
		if err != nil {
			return nil, err
		}
		return line[:len(line)-1], nil
	}
}
