package transfer

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testOptions() Options {
	return Options{
		ChunkSize:    1024,
		MaxItemSize:  1 << 20,
		ChunkTimeout: time.Second,
		Logger:       quietLogger(),
	}
}

// recordingConn remembers the kind of every message sent through it.
type recordingConn struct {
	transport.Conn

	mu    sync.Mutex
	kinds []protocol.Kind
}

func (c *recordingConn) Send(data []byte) error {
	if msg, err := protocol.Decode(data); err == nil {
		c.mu.Lock()
		c.kinds = append(c.kinds, msg.Kind())
		c.mu.Unlock()
	}
	return c.Conn.Send(data)
}

func (c *recordingConn) count(k protocol.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.kinds {
		if got == k {
			n++
		}
	}
	return n
}

type countingSaver struct {
	Saver
	mu    sync.Mutex
	calls int
}

func (s *countingSaver) Save(ctx context.Context, b *Batch, a []Artifact) ([]string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Saver.Save(ctx, b, a)
}

func (s *countingSaver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type batchEnd struct {
	batch *Batch
	saved []string
	reset bool
}

type harness struct {
	t        *testing.T
	sendConn *recordingConn
	recvConn transport.Conn
	outDir   string
	saver    *countingSaver
	ends     chan batchEnd
	errs     chan error
	served   chan error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	a, b := memory.Pipe("sender", "receiver")
	h := &harness{
		t:        t,
		sendConn: &recordingConn{Conn: a},
		recvConn: b,
		outDir:   t.TempDir(),
		ends:     make(chan batchEnd, 4),
		errs:     make(chan error, 4),
		served:   make(chan error, 1),
	}
	h.saver = &countingSaver{Saver: &DirSaver{Dir: h.outDir}}

	rx := NewReceiver(opts, h.saver, Handlers{
		OnBatchEnd: func(_ string, batch *Batch, saved []string, reset bool) {
			h.ends <- batchEnd{batch: batch, saved: saved, reset: reset}
		},
		OnError: func(_ string, err error) { h.errs <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.served <- rx.Serve(ctx, b) }()

	t.Cleanup(func() {
		cancel()
		_ = a.Close()
		_ = b.Close()
	})
	return h
}

func (h *harness) sendRaw(msg protocol.Message) {
	h.t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(h.t, err)
	require.NoError(h.t, h.sendConn.Conn.Send(data))
}

func (h *harness) waitEnd() batchEnd {
	h.t.Helper()
	select {
	case end := <-h.ends:
		return end
	case err := <-h.errs:
		h.t.Fatalf("receive failed: %v", err)
	case <-time.After(5 * time.Second):
		h.t.Fatal("batch never ended")
	}
	return batchEnd{}
}

func (h *harness) waitServe() error {
	h.t.Helper()
	select {
	case err := <-h.served:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("Serve did not return")
	}
	return nil
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func zipEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = data
	}
	return out
}

func TestFlatFileRoundTrip(t *testing.T) {
	opts := testOptions()
	h := newHarness(t, opts)

	content := pattern(3*opts.ChunkSize + 17)
	src := filepath.Join(t.TempDir(), "photo.jpg")
	writeFile(t, src, content)

	items, err := CollectItems(src)
	require.NoError(t, err)

	var statuses []State
	err = NewSender(opts).SendBatch(context.Background(), h.sendConn, items, nil, func(s State) {
		statuses = append(statuses, s)
	})
	require.NoError(t, err)

	end := h.waitEnd()
	assert.True(t, end.reset)
	require.Len(t, end.saved, 1)
	assert.Equal(t, filepath.Join(h.outDir, "photo.jpg"), end.saved[0])

	got, err := os.ReadFile(end.saved[0])
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Equal(t, 4, h.sendConn.count(protocol.KindChunk), "ceil(S/C) chunks")
	assert.Equal(t, 1, h.sendConn.count(protocol.KindMetadata))
	assert.Equal(t, 1, h.sendConn.count(protocol.KindComplete))
	assert.Equal(t, []State{StatePreparing, StateTransferring, StateCompleting, StateCompleted, StateIdle}, statuses)
}

func TestSendProgressReachesHundredOnlyAfterCompletion(t *testing.T) {
	opts := testOptions()
	h := newHarness(t, opts)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.bin"), pattern(2500))
	writeFile(t, filepath.Join(dir, "b.bin"), pattern(4000))
	items, err := CollectItems(filepath.Join(dir, "a.bin"), filepath.Join(dir, "b.bin"))
	require.NoError(t, err)

	var progress []float64
	err = NewSender(opts).SendBatch(context.Background(), h.sendConn, items, func(p float64) {
		if p >= 100 {
			assert.Equal(t, 1, h.sendConn.count(protocol.KindComplete), "100 before completion was sent")
		}
		progress = append(progress, p)
	}, nil)
	require.NoError(t, err)
	h.waitEnd()

	require.NotEmpty(t, progress)
	assert.True(t, sort.Float64sAreSorted(progress), "progress must not decrease: %v", progress)
	assert.Equal(t, 100.0, progress[len(progress)-1])
	for _, p := range progress[:len(progress)-1] {
		assert.Less(t, p, 100.0)
	}
}

func TestFolderIsBundledWithStructure(t *testing.T) {
	opts := testOptions()
	h := newHarness(t, opts)

	root := filepath.Join(t.TempDir(), "docs")
	files := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"b.md":      pattern(1500),
		"notes.txt": []byte("gamma"),
	}
	for name, data := range files {
		writeFile(t, filepath.Join(root, name), data)
	}

	items, err := CollectItems(root)
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.NoError(t, NewSender(opts).SendBatch(context.Background(), h.sendConn, items, nil, nil))

	end := h.waitEnd()
	assert.True(t, end.batch.ContainsFolders)
	require.Len(t, end.saved, 1)
	assert.Equal(t, filepath.Join(h.outDir, "docs.zip"), end.saved[0])

	entries := zipEntries(t, end.saved[0])
	require.Len(t, entries, 3)
	for name, data := range files {
		assert.Equal(t, data, entries["docs/"+name], name)
	}
}

func TestDuplicateNamesInBundle(t *testing.T) {
	opts := testOptions()
	h := newHarness(t, opts)

	first := filepath.Join(t.TempDir(), "report.txt")
	second := filepath.Join(t.TempDir(), "report.txt")
	writeFile(t, first, []byte("q1"))
	writeFile(t, second, []byte("q2"))

	items, err := CollectItems(first, second)
	require.NoError(t, err)
	require.NoError(t, NewSender(opts).SendBatch(context.Background(), h.sendConn, items, nil, nil))

	end := h.waitEnd()
	require.Len(t, end.saved, 1)
	assert.Regexp(t, `batch-[0-9a-f-]{8}\.zip$`, end.saved[0])

	entries := zipEntries(t, end.saved[0])
	assert.Equal(t, map[string][]byte{
		"report.txt":     []byte("q1"),
		"report (1).txt": []byte("q2"),
	}, entries)
}

func TestItemTooLargeSendsNothing(t *testing.T) {
	opts := testOptions()
	opts.MaxItemSize = 10
	a, b := memory.Pipe("sender", "receiver")
	defer a.Close()
	defer b.Close()
	conn := &recordingConn{Conn: a}

	items := []Item{
		{Name: "small.txt", Path: "/does/not/matter", Size: 5},
		{Name: "big.iso", Path: "/does/not/matter", Size: 11},
	}

	var statuses []State
	err := NewSender(opts).SendBatch(context.Background(), conn, items, nil, func(s State) {
		statuses = append(statuses, s)
	})
	assert.ErrorIs(t, err, ErrItemTooLarge)
	assert.Contains(t, StatusMessage(err), "big.iso")
	assert.Empty(t, conn.kinds)
	assert.Empty(t, statuses)
}

func TestNoItems(t *testing.T) {
	a, b := memory.Pipe("sender", "receiver")
	defer a.Close()
	defer b.Close()

	err := NewSender(testOptions()).SendBatch(context.Background(), a, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestInactivityTimeout(t *testing.T) {
	opts := testOptions()
	opts.ChunkTimeout = 20 * time.Millisecond
	h := newHarness(t, opts)

	h.sendRaw(&protocol.FileMetadata{
		Files:      []protocol.FileDescriptor{{FileName: "slow.bin", FileSize: 2048, TotalChunks: 2}},
		TotalFiles: 1,
		TotalSize:  2048,
	})

	start := time.Now()
	err := h.waitServe()
	assert.ErrorIs(t, err, ErrTransferTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "window scales with remaining chunks")
	assert.Equal(t, 0, h.saver.Calls())

	entries, readErr := os.ReadDir(h.outDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no artifact saved")
}

func TestCloseMidFileIsIncomplete(t *testing.T) {
	h := newHarness(t, testOptions())

	h.sendRaw(&protocol.FileMetadata{
		Files:      []protocol.FileDescriptor{{FileName: "cut.bin", FileSize: 10, TotalChunks: 2}},
		TotalFiles: 1,
		TotalSize:  10,
	})
	h.sendRaw(&protocol.Chunk{FileIndex: 0, Start: 0, End: 4, Data: []byte("abcd"), FileName: "cut.bin"})
	require.NoError(t, h.sendConn.Close())

	assert.ErrorIs(t, h.waitServe(), ErrIncompleteTransfer)
	assert.Equal(t, 0, h.saver.Calls())
}

func TestCloseAfterFullFileIsNotAnError(t *testing.T) {
	h := newHarness(t, testOptions())

	h.sendRaw(&protocol.FileMetadata{
		Files:      []protocol.FileDescriptor{{FileName: "whole.bin", FileSize: 4, TotalChunks: 1}},
		TotalFiles: 1,
		TotalSize:  4,
	})
	h.sendRaw(&protocol.Chunk{FileIndex: 0, Start: 0, End: 4, Data: []byte("abcd"), FileName: "whole.bin"})
	require.NoError(t, h.sendConn.Close())

	assert.NoError(t, h.waitServe())
	assert.Equal(t, 0, h.saver.Calls())
}

func TestOutOfOrderChunkIsMalformed(t *testing.T) {
	h := newHarness(t, testOptions())

	h.sendRaw(&protocol.FileMetadata{
		Files:      []protocol.FileDescriptor{{FileName: "x.bin", FileSize: 8, TotalChunks: 2}},
		TotalFiles: 1,
		TotalSize:  8,
	})
	h.sendRaw(&protocol.Chunk{FileIndex: 0, Start: 4, End: 8, Data: []byte("efgh"), FileName: "x.bin"})

	assert.ErrorIs(t, h.waitServe(), protocol.ErrMalformed)
}

func TestSenderAbort(t *testing.T) {
	h := newHarness(t, testOptions())

	h.sendRaw(&protocol.FileMetadata{
		Files:      []protocol.FileDescriptor{{FileName: "x.bin", FileSize: 8, TotalChunks: 1}},
		TotalFiles: 1,
		TotalSize:  8,
	})
	h.sendRaw(&protocol.Complete{Success: false})

	err := h.waitServe()
	assert.ErrorIs(t, err, ErrTransferAborted)
	assert.Equal(t, "Transfer cancelled by the sender", StatusMessage(err))
}

func TestReceiverRefusesOversizedDeclaration(t *testing.T) {
	opts := testOptions()
	h := newHarness(t, opts)

	size := opts.MaxItemSize + 1
	h.sendRaw(&protocol.FileMetadata{
		Files:      []protocol.FileDescriptor{{FileName: "huge.bin", FileSize: size, TotalChunks: 1025}},
		TotalFiles: 1,
		TotalSize:  size,
	})

	err := h.waitServe()
	assert.ErrorIs(t, err, ErrItemTooLarge)
	assert.Equal(t, 0, h.saver.Calls())
}

func TestLegacySingleFile(t *testing.T) {
	h := newHarness(t, testOptions())

	header, err := json.Marshal(protocol.LegacyDescriptor{
		FileName:    "old.txt",
		FileSize:    11,
		MimeType:    "text/plain",
		TotalChunks: 2,
		Timestamp:   time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	require.NoError(t, h.sendConn.Send(header))
	require.NoError(t, h.sendConn.Send([]byte("hello ")))
	require.NoError(t, h.sendConn.Send([]byte("world")))

	end := h.waitEnd()
	require.Len(t, end.saved, 1)
	got, err := os.ReadFile(end.saved[0])
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, filepath.Join(h.outDir, "old.txt"), end.saved[0])
}

func TestConnectionCarriesSeveralBatches(t *testing.T) {
	opts := testOptions()
	h := newHarness(t, opts)
	sender := NewSender(opts)

	for i, name := range []string{"one.txt", "two.txt"} {
		src := filepath.Join(t.TempDir(), name)
		writeFile(t, src, bytes.Repeat([]byte{byte('a' + i)}, 100))
		items, err := CollectItems(src)
		require.NoError(t, err)

		require.NoError(t, sender.SendBatch(context.Background(), h.sendConn, items, nil, nil))
		end := h.waitEnd()
		assert.Equal(t, []string{filepath.Join(h.outDir, name)}, end.saved)
	}

	require.NoError(t, h.sendConn.Close())
	assert.NoError(t, h.waitServe())
}

func TestReceiverSessionsTable(t *testing.T) {
	opts := testOptions()
	rx := NewReceiver(opts, &DirSaver{Dir: t.TempDir()}, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conns []transport.Conn
	done := make(chan error, 2)
	for _, peer := range []string{"p1", "p2"} {
		a, b := memory.Pipe(peer, "me")
		conns = append(conns, a, b)
		go func() { done <- rx.Serve(ctx, b) }()
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	require.Eventually(t, func() bool { return len(rx.Sessions()) == 2 }, time.Second, 5*time.Millisecond)
	var peers []string
	for _, info := range rx.Sessions() {
		peers = append(peers, info.PeerID)
	}
	sort.Strings(peers)
	assert.Equal(t, []string{"p1", "p2"}, peers)

	cancel()
	for range 2 {
		assert.ErrorIs(t, <-done, context.Canceled)
	}
	assert.Empty(t, rx.Sessions())
}
