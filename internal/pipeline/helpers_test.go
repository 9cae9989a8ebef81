package pipeline

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/sunr3d/folderzip/models"
)

const (
	testShareID = "share-1"
	rootLinkID  = "root"
)

type fakeDrive struct {
	mu       sync.Mutex
	children map[string][]models.Link
	content  map[string][]byte

	listDelay  map[string]time.Duration
	fetchDelay map[string]time.Duration
	listErr    map[string]error
	fetchErr   map[string]error
	blockList  map[string]bool
	blockFetch map[string]bool

	fetchCalls map[string]int
	inFlight   int
	peak       int
	fetched    chan string
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		children:   map[string][]models.Link{rootLinkID: {}},
		content:    map[string][]byte{},
		listDelay:  map[string]time.Duration{},
		fetchDelay: map[string]time.Duration{},
		listErr:    map[string]error{},
		fetchErr:   map[string]error{},
		blockList:  map[string]bool{},
		blockFetch: map[string]bool{},
		fetchCalls: map[string]int{},
		fetched:    make(chan string, 1024),
	}
}

func (d *fakeDrive) folder(parent, id, name string) *fakeDrive {
	d.children[parent] = append(d.children[parent], models.Link{LinkID: id, Name: name, Kind: models.LinkKindFolder})
	if _, ok := d.children[id]; !ok {
		d.children[id] = []models.Link{}
	}
	return d
}

func (d *fakeDrive) file(parent, id, name string, data []byte) *fakeDrive {
	d.children[parent] = append(d.children[parent], models.Link{
		LinkID:    id,
		Name:      name,
		Kind:      models.LinkKindFile,
		Size:      int64(len(data)),
		MediaType: "application/octet-stream",
	})
	d.content[id] = data
	return d
}

func (d *fakeDrive) callbacks() Callbacks {
	return Callbacks{ListChildren: d.list, FetchContent: d.fetch}
}

func (d *fakeDrive) list(ctx context.Context, shareID, linkID string) ([]models.Link, error) {
	d.mu.Lock()
	delay, block, err := d.listDelay[linkID], d.blockList[linkID], d.listErr[linkID]
	children := append([]models.Link(nil), d.children[linkID]...)
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return children, nil
}

func (d *fakeDrive) fetch(ctx context.Context, shareID, linkID string) (io.ReadCloser, error) {
	d.mu.Lock()
	d.fetchCalls[linkID]++
	d.inFlight++
	d.peak = max(d.peak, d.inFlight)
	delay, block, err := d.fetchDelay[linkID], d.blockFetch[linkID], d.fetchErr[linkID]
	data := d.content[linkID]
	d.mu.Unlock()

	d.fetched <- linkID

	if block {
		<-ctx.Done()
		d.release()
		return nil, ctx.Err()
	}
	if err := sleepCtx(ctx, delay); err != nil {
		d.release()
		return nil, err
	}
	if err != nil {
		d.release()
		return nil, err
	}
	return &trackedReader{Reader: bytes.NewReader(data), onClose: d.release}, nil
}

func (d *fakeDrive) release() {
	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()
}

func (d *fakeDrive) stats() (inFlight, peak int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight, d.peak
}

func (d *fakeDrive) calls(linkID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchCalls[linkID]
}

func (d *fakeDrive) totalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.fetchCalls {
		total += n
	}
	return total
}

type trackedReader struct {
	io.Reader
	once    sync.Once
	closed  bool
	onClose func()
}

func (r *trackedReader) Close() error {
	r.once.Do(func() {
		r.closed = true
		if r.onClose != nil {
			r.onClose()
		}
	})
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type archiveEntry struct {
	name  string
	dir   bool
	bytes []byte
}

func readArchive(t *testing.T, data []byte) []archiveEntry {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make([]archiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		entry := archiveEntry{name: f.Name, dir: f.FileInfo().IsDir()}
		if !entry.dir {
			rc, err := f.Open()
			require.NoError(t, err)
			entry.bytes, err = io.ReadAll(rc)
			require.NoError(t, err)
			rc.Close()
		}
		entries = append(entries, entry)
	}
	return entries
}

func archiveNames(entries []archiveEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

// sliceSource отдает заранее известные элементы, затем io.EOF.
type sliceSource struct {
	mu      sync.Mutex
	entries []models.Entry
	err     error
}

func (s *sliceSource) Next(ctx context.Context) (models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return models.Entry{}, cancelled(ctx)
	}
	if len(s.entries) == 0 {
		if s.err != nil {
			return models.Entry{}, s.err
		}
		return models.Entry{}, io.EOF
	}
	entry := s.entries[0]
	s.entries = s.entries[1:]
	return entry, nil
}

func fileEntry(id string, size int64) models.Entry {
	return models.Entry{ShareID: testShareID, LinkID: id, Kind: models.LinkKindFile, Name: id, Size: size}
}

func folderEntry(id string) models.Entry {
	return models.Entry{ShareID: testShareID, LinkID: id, Kind: models.LinkKindFolder, Name: id}
}

// drain читает пары так же, как ArchiveWriter: содержимое целиком, затем Close.
func drain(out <-chan Pair) (<-chan []models.Entry, <-chan map[string][]byte) {
	entriesCh := make(chan []models.Entry, 1)
	contentCh := make(chan map[string][]byte, 1)
	go func() {
		var entries []models.Entry
		content := map[string][]byte{}
		for pair := range out {
			entries = append(entries, pair.Entry)
			if pair.Content != nil {
				data, _ := io.ReadAll(pair.Content)
				pair.Content.Close()
				content[pair.Entry.LinkID] = data
			}
		}
		entriesCh <- entries
		contentCh <- content
	}()
	return entriesCh, contentCh
}
