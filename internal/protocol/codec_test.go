package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestCodecMetadata(t *testing.T) {
	meta := &FileMetadata{
		BatchID: "batch-1",
		Files: []FileDescriptor{
			{FileIndex: 0, FileName: "a.txt", FileSize: 10, MimeType: "text/plain", RelativePath: "docs/a.txt", TotalChunks: 1},
			{FileIndex: 1, FileName: "empty.bin", MimeType: DefaultMimeType},
		},
		TotalFiles:      2,
		TotalSize:       10,
		ContainsFolders: true,
	}

	data, err := Encode(meta)
	if err != nil {
		t.Fatalf("Encode metadata failed: %v", err)
	}
	if data[0] != 0x0a {
		t.Fatalf("Expected metadata tag 0x0a, got %#x", data[0])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode metadata failed: %v", err)
	}

	got, ok := decoded.(*FileMetadata)
	if !ok {
		t.Fatalf("Expected *FileMetadata, got %T", decoded)
	}
	if got.BatchID != "batch-1" || got.TotalFiles != 2 || got.TotalSize != 10 || !got.ContainsFolders {
		t.Errorf("Metadata header mismatch: %+v", got)
	}
	if len(got.Files) != 2 {
		t.Fatalf("Expected 2 descriptors, got %d", len(got.Files))
	}
	if got.Files[0] != meta.Files[0] || got.Files[1] != meta.Files[1] {
		t.Errorf("Descriptor mismatch: %+v", got.Files)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Decoded metadata should validate: %v", err)
	}
}

func TestCodecChunk(t *testing.T) {
	payload := []byte("This is some chunk data for testing purposes.")
	chunk := &Chunk{
		FileIndex:    3,
		Start:        65536,
		End:          65536 + int64(len(payload)),
		Data:         payload,
		FileName:     "notes.md",
		RelativePath: "docs/notes.md",
	}

	data, err := Encode(chunk)
	if err != nil {
		t.Fatalf("Encode chunk failed: %v", err)
	}
	if data[0] != 0x12 {
		t.Fatalf("Expected chunk tag 0x12, got %#x", data[0])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode chunk failed: %v", err)
	}

	got, ok := decoded.(*Chunk)
	if !ok {
		t.Fatalf("Expected *Chunk, got %T", decoded)
	}
	if got.FileIndex != 3 || got.Start != 65536 || got.End != chunk.End {
		t.Errorf("Chunk position mismatch: %+v", got)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Errorf("Chunk data mismatch")
	}
	if got.FileName != "notes.md" || got.RelativePath != "docs/notes.md" {
		t.Errorf("Chunk names mismatch: %q %q", got.FileName, got.RelativePath)
	}
}

func TestCodecComplete(t *testing.T) {
	for _, success := range []bool{true, false} {
		data, err := Encode(&Complete{Success: success})
		if err != nil {
			t.Fatalf("Encode complete failed: %v", err)
		}
		if data[0] != 0x1a {
			t.Fatalf("Expected complete tag 0x1a, got %#x", data[0])
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode complete failed: %v", err)
		}
		got, ok := decoded.(*Complete)
		if !ok {
			t.Fatalf("Expected *Complete, got %T", decoded)
		}
		if got.Success != success {
			t.Errorf("Expected success %v, got %v", success, got.Success)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"truncated":      {0x12, 0x10, 0x08},
		"unknown field":  {0x22, 0x00},
		"bad chunk size": mustEncodeRaw(t, &Chunk{Start: 0, End: 10, Data: []byte("short")}),
	}

	for name, data := range cases {
		if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestMetadataValidate(t *testing.T) {
	good := FileMetadata{
		Files:      []FileDescriptor{{FileIndex: 0, FileName: "a", FileSize: 4}},
		TotalFiles: 1,
		TotalSize:  4,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Expected valid metadata, got %v", err)
	}

	wrongTotal := good
	wrongTotal.TotalSize = 5
	if err := wrongTotal.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for size mismatch, got %v", err)
	}

	wrongFolders := good
	wrongFolders.ContainsFolders = true
	if err := wrongFolders.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for folder flag mismatch, got %v", err)
	}

	wrongIndex := FileMetadata{
		Files:      []FileDescriptor{{FileIndex: 1, FileName: "a"}},
		TotalFiles: 1,
	}
	if err := wrongIndex.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for index mismatch, got %v", err)
	}
}

func TestDecoderCanonical(t *testing.T) {
	dec := NewDecoder()

	data, err := Encode(&Complete{Success: true})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	msgs, err := dec.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind() != KindComplete {
		t.Fatalf("Expected one completion, got %v", msgs)
	}
	if dec.Legacy() {
		t.Errorf("Canonical frames should not enter legacy mode")
	}
}

func TestDecoderLegacyStream(t *testing.T) {
	dec := NewDecoder()

	header, _ := json.Marshal(LegacyDescriptor{
		FileName:    "photo.jpg",
		FileSize:    7,
		MimeType:    "image/jpeg",
		TotalChunks: 2,
		Timestamp:   1700000000000,
	})

	msgs, err := dec.Decode(header)
	if err != nil {
		t.Fatalf("Decode legacy header failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected metadata only, got %d messages", len(msgs))
	}
	meta, ok := msgs[0].(*FileMetadata)
	if !ok {
		t.Fatalf("Expected *FileMetadata, got %T", msgs[0])
	}
	if meta.TotalFiles != 1 || meta.TotalSize != 7 || meta.Files[0].FileName != "photo.jpg" || meta.Files[0].MimeType != "image/jpeg" {
		t.Errorf("Legacy metadata mismatch: %+v", meta)
	}
	if err := meta.Validate(); err != nil {
		t.Errorf("Legacy metadata should validate: %v", err)
	}
	if !dec.Legacy() {
		t.Fatalf("Expected legacy mode after header")
	}

	// raw frames may look like anything, including JSON
	msgs, err = dec.Decode([]byte("{abc"))
	if err != nil {
		t.Fatalf("Decode raw chunk failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected one chunk, got %d messages", len(msgs))
	}
	first := msgs[0].(*Chunk)
	if first.Start != 0 || first.End != 4 || string(first.Data) != "{abc" {
		t.Errorf("First chunk mismatch: %+v", first)
	}

	msgs, err = dec.Decode([]byte("def"))
	if err != nil {
		t.Fatalf("Decode raw chunk failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected chunk and completion, got %d messages", len(msgs))
	}
	second := msgs[0].(*Chunk)
	if second.Start != 4 || second.End != 7 {
		t.Errorf("Second chunk range mismatch: [%d,%d)", second.Start, second.End)
	}
	if done, ok := msgs[1].(*Complete); !ok || !done.Success {
		t.Errorf("Expected synthesized completion, got %v", msgs[1])
	}
	if dec.Legacy() {
		t.Errorf("Decoder should leave legacy mode after the last chunk")
	}
}

func TestDecoderLegacyEmptyFile(t *testing.T) {
	dec := NewDecoder()
	header, _ := json.Marshal(LegacyDescriptor{FileName: "empty.txt"})

	msgs, err := dec.Decode(header)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Kind() != KindComplete {
		t.Fatalf("Expected metadata and completion, got %v", msgs)
	}
	if meta := msgs[0].(*FileMetadata); meta.Files[0].MimeType != DefaultMimeType {
		t.Errorf("Expected default mime type, got %q", meta.Files[0].MimeType)
	}
}

func TestDecoderLegacyMalformed(t *testing.T) {
	dec := NewDecoder()

	if _, err := dec.Decode([]byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for bad JSON, got %v", err)
	}

	header, _ := json.Marshal(LegacyDescriptor{FileName: "x", FileSize: 10})
	if _, err := dec.Decode(header); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for missing chunk count, got %v", err)
	}
	if dec.Legacy() {
		t.Errorf("Rejected header must not enter legacy mode")
	}
}

func TestCleanRelativePath(t *testing.T) {
	ok := map[string]string{
		"":                 "",
		"docs/a.txt":       "docs/a.txt",
		"docs/./b/../a.md": "docs/a.md",
		`docs\win.txt`:     "docs/win.txt",
	}
	for in, want := range ok {
		got, err := CleanRelativePath(in)
		if err != nil {
			t.Errorf("CleanRelativePath(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("CleanRelativePath(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"/etc/passwd", "../secret", "docs/../../x", "C:/Windows", ".."} {
		if _, err := CleanRelativePath(bad); !errors.Is(err, ErrMalformed) {
			t.Errorf("CleanRelativePath(%q) should fail, got %v", bad, err)
		}
	}
}

// mustEncodeRaw encodes without validation so tests can build bad frames.
func mustEncodeRaw(t *testing.T, msg Message) []byte {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}
