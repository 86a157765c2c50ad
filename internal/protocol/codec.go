package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode renders msg as a canonical envelope.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *FileMetadata:
		return protowire.AppendBytes(protowire.AppendTag(nil, fieldMetadata, protowire.BytesType), appendMetadata(nil, m)), nil
	case *Chunk:
		b := protowire.AppendTag(make([]byte, 0, len(m.Data)+64), fieldChunk, protowire.BytesType)
		return protowire.AppendBytes(b, appendChunk(nil, m)), nil
	case *Complete:
		return protowire.AppendBytes(protowire.AppendTag(nil, fieldComplete, protowire.BytesType), appendComplete(nil, m)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T", msg)
	}
}

// Decode parses one canonical envelope.
func Decode(b []byte) (Message, error) {
	if len(b) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformed, len(b))
	}

	var msg Message
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		var err error
		switch num {
		case fieldMetadata:
			msg, err = decodeMetadata(v)
		case fieldChunk:
			msg, err = decodeChunk(v)
		case fieldComplete:
			msg, err = decodeComplete(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}
	return msg, nil
}

func appendMetadata(b []byte, m *FileMetadata) []byte {
	for i := range m.Files {
		b = protowire.AppendTag(b, metaFiles, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDescriptor(nil, &m.Files[i]))
	}
	b = appendVarint(b, metaTotalFiles, uint64(m.TotalFiles))
	b = appendVarint(b, metaTotalSize, uint64(m.TotalSize))
	b = appendVarint(b, metaContainsFolders, protowire.EncodeBool(m.ContainsFolders))
	b = appendString(b, metaBatchID, m.BatchID)
	return b
}

func appendDescriptor(b []byte, d *FileDescriptor) []byte {
	b = appendVarint(b, descFileIndex, uint64(d.FileIndex))
	b = appendString(b, descFileName, d.FileName)
	b = appendVarint(b, descFileSize, uint64(d.FileSize))
	b = appendString(b, descMimeType, d.MimeType)
	b = appendString(b, descRelativePath, d.RelativePath)
	b = appendVarint(b, descTotalChunks, uint64(d.TotalChunks))
	return b
}

func appendChunk(b []byte, c *Chunk) []byte {
	b = appendVarint(b, chunkFileIndex, uint64(c.FileIndex))
	if len(c.Data) > 0 {
		b = protowire.AppendTag(b, chunkData, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Data)
	}
	b = appendVarint(b, chunkStart, uint64(c.Start))
	b = appendVarint(b, chunkEnd, uint64(c.End))
	b = appendString(b, chunkFileName, c.FileName)
	b = appendString(b, chunkRelativePath, c.RelativePath)
	return b
}

func appendComplete(b []byte, c *Complete) []byte {
	return appendVarint(b, completeSuccess, protowire.EncodeBool(c.Success))
}

// Zero values are omitted, as proto3 does.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func decodeMetadata(b []byte) (*FileMetadata, error) {
	m := &FileMetadata{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == metaFiles && typ == protowire.BytesType:
			d, err := decodeDescriptor(v)
			if err != nil {
				return err
			}
			m.Files = append(m.Files, d)
		case num == metaBatchID && typ == protowire.BytesType:
			m.BatchID = string(v)
		case typ == protowire.VarintType:
			x, err := varint(v)
			if err != nil {
				return err
			}
			switch num {
			case metaTotalFiles:
				m.TotalFiles = int(x)
			case metaTotalSize:
				m.TotalSize = int64(x)
			case metaContainsFolders:
				m.ContainsFolders = protowire.DecodeBool(x)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeDescriptor(b []byte) (FileDescriptor, error) {
	var d FileDescriptor
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ == protowire.BytesType {
			switch num {
			case descFileName:
				d.FileName = string(v)
			case descMimeType:
				d.MimeType = string(v)
			case descRelativePath:
				d.RelativePath = string(v)
			}
			return nil
		}
		if typ != protowire.VarintType {
			return nil
		}
		x, err := varint(v)
		if err != nil {
			return err
		}
		switch num {
		case descFileIndex:
			d.FileIndex = int(x)
		case descFileSize:
			d.FileSize = int64(x)
		case descTotalChunks:
			d.TotalChunks = int(x)
		}
		return nil
	})
	return d, err
}

func decodeChunk(b []byte) (*Chunk, error) {
	c := &Chunk{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ == protowire.BytesType {
			switch num {
			case chunkData:
				c.Data = append([]byte(nil), v...)
			case chunkFileName:
				c.FileName = string(v)
			case chunkRelativePath:
				c.RelativePath = string(v)
			}
			return nil
		}
		if typ != protowire.VarintType {
			return nil
		}
		x, err := varint(v)
		if err != nil {
			return err
		}
		switch num {
		case chunkFileIndex:
			c.FileIndex = int(x)
		case chunkStart:
			c.Start = int64(x)
		case chunkEnd:
			c.End = int64(x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeComplete(b []byte) (*Complete, error) {
	c := &Complete{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != completeSuccess || typ != protowire.VarintType {
			return nil
		}
		x, err := varint(v)
		if err != nil {
			return err
		}
		c.Success = protowire.DecodeBool(x)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// walk calls fn for every field in b. For varint fields v holds the raw
// varint bytes, for length-delimited fields the payload.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var v []byte
		switch typ {
		case protowire.BytesType:
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			v, n = payload, m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			v = b[:n]
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func varint(v []byte) (uint64, error) {
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return x, nil
}
