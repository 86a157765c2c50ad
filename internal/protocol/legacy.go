package protocol

import (
	"encoding/json"
	"fmt"
)

// LegacyDescriptor is the bare JSON header older senders put in front of a
// single file's raw chunks.
type LegacyDescriptor struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
	Timestamp   int64  `json:"timestamp"`
}

func (d *LegacyDescriptor) validate() error {
	if d.FileName == "" {
		return fmt.Errorf("%w: legacy descriptor has no file name", ErrMalformed)
	}
	if d.FileSize < 0 || d.TotalChunks < 0 {
		return fmt.Errorf("%w: legacy descriptor has negative size", ErrMalformed)
	}
	if d.FileSize > 0 && d.TotalChunks == 0 {
		return fmt.Errorf("%w: legacy descriptor declares %d bytes in zero chunks", ErrMalformed, d.FileSize)
	}
	return nil
}

func (d *LegacyDescriptor) metadata() *FileMetadata {
	mime := d.MimeType
	if mime == "" {
		mime = DefaultMimeType
	}
	return &FileMetadata{
		Files: []FileDescriptor{{
			FileName:    d.FileName,
			FileSize:    d.FileSize,
			MimeType:    mime,
			TotalChunks: d.TotalChunks,
		}},
		TotalFiles: 1,
		TotalSize:  d.FileSize,
	}
}

type legacyStream struct {
	desc     LegacyDescriptor
	received int
	offset   int64
}

// Decoder turns inbound frames into messages. Canonical envelopes decode one
// to one; a legacy descriptor switches the decoder into raw-chunk mode until
// the declared chunk count has arrived, at which point it yields the
// completion the legacy sender never sends.
type Decoder struct {
	legacy *legacyStream
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Legacy reports whether the decoder is inside a legacy stream.
func (d *Decoder) Legacy() bool {
	return d.legacy != nil
}

func (d *Decoder) Decode(frame []byte) ([]Message, error) {
	if d.legacy != nil {
		return d.decodeRaw(frame), nil
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	if frame[0] == '{' {
		var desc LegacyDescriptor
		if err := json.Unmarshal(frame, &desc); err != nil {
			return nil, fmt.Errorf("%w: legacy descriptor: %v", ErrMalformed, err)
		}
		if err := desc.validate(); err != nil {
			return nil, err
		}

		msgs := []Message{desc.metadata()}
		if desc.TotalChunks == 0 {
			return append(msgs, &Complete{Success: true}), nil
		}
		d.legacy = &legacyStream{desc: desc}
		return msgs, nil
	}

	msg, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

func (d *Decoder) decodeRaw(frame []byte) []Message {
	s := d.legacy
	c := &Chunk{
		Start:    s.offset,
		End:      s.offset + int64(len(frame)),
		Data:     append([]byte(nil), frame...),
		FileName: s.desc.FileName,
	}
	s.offset = c.End
	s.received++

	msgs := []Message{c}
	if s.received >= s.desc.TotalChunks {
		d.legacy = nil
		msgs = append(msgs, &Complete{Success: true})
	}
	return msgs
}

// Reset drops any partial legacy stream.
func (d *Decoder) Reset() {
	d.legacy = nil
}
