package protocol

import "google.golang.org/protobuf/encoding/protowire"

const (
	DefaultMimeType = "application/octet-stream"

	// MaxFrameSize bounds a single decoded frame; chunks are far smaller.
	MaxFrameSize = 16 * 1024 * 1024
)

type Kind uint8

const (
	KindMetadata Kind = iota + 1
	KindChunk
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "file-metadata"
	case KindChunk:
		return "file-chunk"
	case KindComplete:
		return "file-complete"
	default:
		return "unknown"
	}
}

// Envelope fields.
const (
	fieldMetadata protowire.Number = 1
	fieldChunk    protowire.Number = 2
	fieldComplete protowire.Number = 3
)

// FileMetadata fields.
const (
	metaFiles           protowire.Number = 1
	metaTotalFiles      protowire.Number = 2
	metaTotalSize       protowire.Number = 3
	metaContainsFolders protowire.Number = 4
	metaBatchID         protowire.Number = 5
)

// FileDescriptor fields.
const (
	descFileIndex    protowire.Number = 1
	descFileName     protowire.Number = 2
	descFileSize     protowire.Number = 3
	descMimeType     protowire.Number = 4
	descRelativePath protowire.Number = 5
	descTotalChunks  protowire.Number = 6
)

// FileChunk fields.
const (
	chunkFileIndex    protowire.Number = 1
	chunkData         protowire.Number = 2
	chunkStart        protowire.Number = 3
	chunkEnd          protowire.Number = 4
	chunkFileName     protowire.Number = 5
	chunkRelativePath protowire.Number = 6
)

const completeSuccess protowire.Number = 1
