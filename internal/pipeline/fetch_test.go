package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/folderzip/models"
)

func entryIDs(entries []models.Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.LinkID)
	}
	return ids
}

func TestFetcher_PreservesOrderUnderRandomLatency(t *testing.T) {
	for _, limit := range []int{1, 2, 4, 8} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(uint64(limit), 42))
			drive := newFakeDrive()
			src := &sliceSource{}
			var want []string

			for i := range 24 {
				id := fmt.Sprintf("f%02d", i)
				drive.content[id] = []byte(id)
				drive.fetchDelay[id] = time.Duration(rng.IntN(15)) * time.Millisecond
				src.entries = append(src.entries, fileEntry(id, 3))
				want = append(want, id)
			}

			f := NewFetcher(drive.fetch, limit, zaptest.NewLogger(t))
			out := make(chan Pair)
			entriesCh, contentCh := drain(out)

			require.NoError(t, f.Run(context.Background(), src, out))

			entries := <-entriesCh
			content := <-contentCh
			assert.Equal(t, want, entryIDs(entries))
			for _, id := range want {
				assert.Equal(t, []byte(id), content[id])
				assert.Equal(t, 1, drive.calls(id))
			}

			inFlight, peak := drive.stats()
			assert.Zero(t, inFlight)
			assert.LessOrEqual(t, peak, limit)
			assert.GreaterOrEqual(t, peak, 1)
		})
	}
}

func TestFetcher_ReverseCompletionOrder(t *testing.T) {
	drive := newFakeDrive()
	src := &sliceSource{}
	for i := range 4 {
		id := fmt.Sprintf("f%d", i)
		drive.content[id] = []byte(id)
		// первые элементы загружаются дольше всех
		drive.fetchDelay[id] = time.Duration(40-i*10) * time.Millisecond
		src.entries = append(src.entries, fileEntry(id, 2))
	}

	f := NewFetcher(drive.fetch, 4, zaptest.NewLogger(t))
	out := make(chan Pair)
	entriesCh, _ := drain(out)

	require.NoError(t, f.Run(context.Background(), src, out))
	assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, entryIDs(<-entriesCh))
}

func TestFetcher_FoldersPassThroughWithoutFetch(t *testing.T) {
	drive := newFakeDrive()
	drive.content["f1"] = []byte("one")
	src := &sliceSource{entries: []models.Entry{
		folderEntry("d1"),
		fileEntry("f1", 3),
		folderEntry("d2"),
	}}

	f := NewFetcher(drive.fetch, 1, zaptest.NewLogger(t))
	out := make(chan Pair)

	got := make(chan []Pair, 1)
	go func() {
		var pairs []Pair
		for pair := range out {
			if pair.Content != nil {
				pair.Content.Close()
			}
			pairs = append(pairs, pair)
		}
		got <- pairs
	}()

	require.NoError(t, f.Run(context.Background(), src, out))

	pairs := <-got
	require.Len(t, pairs, 3)
	assert.Nil(t, pairs[0].Content)
	assert.NotNil(t, pairs[1].Content)
	assert.Nil(t, pairs[2].Content)
	assert.Equal(t, 0, drive.calls("d1"))
	assert.Equal(t, 0, drive.calls("d2"))
	assert.Equal(t, 1, drive.totalCalls())
}

func TestFetcher_PauseBlocksNewFetches(t *testing.T) {
	drive := newFakeDrive()
	src := &sliceSource{}
	for i := range 6 {
		id := fmt.Sprintf("f%d", i)
		drive.content[id] = []byte(id)
		src.entries = append(src.entries, fileEntry(id, 2))
	}

	f := NewFetcher(drive.fetch, 2, zaptest.NewLogger(t))
	f.Pause()

	out := make(chan Pair)
	entriesCh, _ := drain(out)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(context.Background(), src, out) }()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, drive.totalCalls())

	f.Resume()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("загрузка не завершилась после возобновления")
	}

	entries := <-entriesCh
	assert.Len(t, entries, 6)
	for i := range 6 {
		assert.Equal(t, 1, drive.calls(fmt.Sprintf("f%d", i)))
	}
}

func TestFetcher_PauseBuffersInFlight(t *testing.T) {
	drive := newFakeDrive()
	src := &sliceSource{}
	for i := range 4 {
		id := fmt.Sprintf("f%d", i)
		drive.content[id] = []byte(id)
		drive.fetchDelay[id] = 20 * time.Millisecond
		src.entries = append(src.entries, fileEntry(id, 2))
	}

	f := NewFetcher(drive.fetch, 2, zaptest.NewLogger(t))
	out := make(chan Pair)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(context.Background(), src, out) }()

	// первые две загрузки уже идут
	<-drive.fetched
	<-drive.fetched
	f.Pause()

	select {
	case pair := <-out:
		t.Fatalf("получен элемент во время паузы: %s", pair.Entry.LinkID)
	case <-time.After(60 * time.Millisecond):
	}
	assert.Equal(t, 2, drive.totalCalls())

	f.Resume()
	entriesCh, _ := drain(out)
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, entryIDs(<-entriesCh))
	assert.Equal(t, 4, drive.totalCalls())
}

func TestFetcher_FetchFailed(t *testing.T) {
	drive := newFakeDrive()
	drive.content["f1"] = []byte("one")
	drive.fetchErr["f2"] = errors.New("connection reset")
	drive.content["f3"] = []byte("three")
	src := &sliceSource{entries: []models.Entry{fileEntry("f1", 3), fileEntry("f2", 3), fileEntry("f3", 5)}}

	f := NewFetcher(drive.fetch, 1, zaptest.NewLogger(t))
	out := make(chan Pair)
	entriesCh, _ := drain(out)

	err := f.Run(context.Background(), src, out)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "connection reset")

	entries := <-entriesCh
	assert.Equal(t, []string{"f1"}, entryIDs(entries))
}

func TestFetcher_SourceErrorIsReturned(t *testing.T) {
	drive := newFakeDrive()
	drive.content["f1"] = []byte("one")
	listErr := fmt.Errorf("%w: boom", ErrListingFailed)
	src := &sliceSource{entries: []models.Entry{fileEntry("f1", 3)}, err: listErr}

	f := NewFetcher(drive.fetch, 2, zaptest.NewLogger(t))
	out := make(chan Pair)
	drain(out)

	err := f.Run(context.Background(), src, out)
	assert.ErrorIs(t, err, ErrListingFailed)
}

func TestFetcher_CancelAbortsInFlight(t *testing.T) {
	drive := newFakeDrive()
	src := &sliceSource{}
	for i := range 5 {
		id := fmt.Sprintf("f%d", i)
		drive.content[id] = []byte(id)
		drive.blockFetch[id] = i > 0
		src.entries = append(src.entries, fileEntry(id, 2))
	}

	f := NewFetcher(drive.fetch, 3, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancelCause(context.Background())
	out := make(chan Pair)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx, src, out) }()

	// f0 готов, но никто его не читает; f1 и f2 висят
	for range 3 {
		<-drive.fetched
	}
	cancel(ErrTransferCancelled)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTransferCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetcher не остановился после отмены")
	}

	_, ok := <-out
	assert.False(t, ok)

	inFlight, _ := drive.stats()
	assert.Zero(t, inFlight)
	assert.Zero(t, drive.calls("f3"))
}

func TestFetcher_CancelWhilePaused(t *testing.T) {
	drive := newFakeDrive()
	drive.content["f0"] = []byte("f0")
	src := &sliceSource{entries: []models.Entry{fileEntry("f0", 2), fileEntry("f1", 2)}}

	f := NewFetcher(drive.fetch, 1, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Pair)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx, src, out) }()

	<-drive.fetched
	f.Pause()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTransferCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("отмена во время паузы не сработала")
	}

	inFlight, _ := drive.stats()
	assert.Zero(t, inFlight)
}

// requestBody как у HTTP-клиента: тело ответа живет, пока жив контекст запроса.
type requestBody struct {
	ctx context.Context
	r   io.Reader
}

func (b *requestBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	return b.r.Read(p)
}

func (b *requestBody) Close() error { return nil }

func TestFetcher_StreamsOutliveRun(t *testing.T) {
	fetch := func(ctx context.Context, _, linkID string) (io.ReadCloser, error) {
		return &requestBody{ctx: ctx, r: strings.NewReader(linkID)}, nil
	}
	src := &sliceSource{entries: []models.Entry{fileEntry("f1", 2), fileEntry("f2", 2)}}

	f := NewFetcher(fetch, 2, zaptest.NewLogger(t))
	out := make(chan Pair)
	pairsCh := make(chan []Pair, 1)
	go func() {
		var pairs []Pair
		for pair := range out {
			pairs = append(pairs, pair)
		}
		pairsCh <- pairs
	}()

	require.NoError(t, f.Run(context.Background(), src, out))

	pairs := <-pairsCh
	require.Len(t, pairs, 2)
	for _, pair := range pairs {
		data, err := io.ReadAll(pair.Content)
		require.NoError(t, err)
		assert.Equal(t, pair.Entry.LinkID, string(data))
		pair.Content.Close()
	}
}

func TestFetcher_FailureAbortsSiblings(t *testing.T) {
	drive := newFakeDrive()
	drive.blockFetch["f1"] = true
	drive.fetchErr["f2"] = errors.New("connection reset")
	src := &sliceSource{entries: []models.Entry{fileEntry("f1", 3), fileEntry("f2", 3)}}

	f := NewFetcher(drive.fetch, 2, zaptest.NewLogger(t))
	out := make(chan Pair)
	drain(out)

	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(context.Background(), src, out) }()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrFetchFailed)
		assert.NotErrorIs(t, err, ErrTransferCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("зависшая загрузка не была прервана")
	}

	inFlight, _ := drive.stats()
	assert.Zero(t, inFlight)
}

func TestFetcher_PauseStopsPendingDelivery(t *testing.T) {
	drive := newFakeDrive()
	src := &sliceSource{}
	for i := range 2 {
		id := fmt.Sprintf("f%d", i)
		drive.content[id] = []byte(id)
		src.entries = append(src.entries, fileEntry(id, 2))
	}

	f := NewFetcher(drive.fetch, 2, zaptest.NewLogger(t))
	out := make(chan Pair)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(context.Background(), src, out) }()

	// f0 уже готов и ждет потребителя
	<-drive.fetched
	<-drive.fetched
	time.Sleep(20 * time.Millisecond)
	f.Pause()

	select {
	case pair := <-out:
		t.Fatalf("получен элемент во время паузы: %s", pair.Entry.LinkID)
	case <-time.After(60 * time.Millisecond):
	}

	f.Resume()
	entriesCh, _ := drain(out)
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"f0", "f1"}, entryIDs(<-entriesCh))
}
