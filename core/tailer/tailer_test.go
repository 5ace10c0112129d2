package tailer

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppender struct {
	texts []string
	err   error
}

func (a *fakeAppender) AppendReplyReceived(ctx context.Context, text string) error {
	if a.err != nil {
		return a.err
	}
	a.texts = append(a.texts, text)
	return nil
}

// newChatDB creates a chat.db fixture with the message table shape the
// tailer queries.
func newChatDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE message (
		text       TEXT,
		handle_id  INTEGER NOT NULL,
		is_from_me INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	return path, db
}

func insertMessage(t *testing.T, db *sql.DB, rowid int64, text string, handleID int64, fromMe bool) {
	t.Helper()
	me := 0
	if fromMe {
		me = 1
	}
	_, err := db.Exec(
		`INSERT INTO message (ROWID, text, handle_id, is_from_me) VALUES (?, ?, ?, ?)`,
		rowid, text, handleID, me,
	)
	require.NoError(t, err)
}

func newTestTailer(t *testing.T, path string, appender Appender) *Tailer {
	t.Helper()
	tl, err := New(Config{
		DBPath:        path,
		HandleIDs:     []int64{7},
		ExcludePrefix: "🤖",
	}, appender, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })
	return tl
}

func TestCursorSeededAtMaxRowID(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 1, "old history", 7, false)
	insertMessage(t, db, 2, "more history", 7, false)

	tl := newTestTailer(t, path, &fakeAppender{})
	got, err := tl.maxRowID(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), got)
}

func TestPollEmitsOnlyRowsPastCursor(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 1, "history", 7, false)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)
	tl.inboundCursor, tl.selfCursor = 1, 1

	insertMessage(t, db, 2, "new message", 7, false)
	tl.poll(context.Background())

	assert.Equal(t, []string{"new message"}, appender.texts)
	assert.Equal(t, int64(2), tl.inboundCursor)
}

func TestPollTwiceWithNoNewRowsIsIdempotent(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 1, "hello", 7, false)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)

	tl.poll(context.Background())
	tl.poll(context.Background())

	assert.Equal(t, []string{"hello"}, appender.texts)
}

func TestPollCollapsesSelfSyncDuplicates(t *testing.T) {
	path, db := newChatDB(t)
	// Multi-device sync: the same human message shows up once inbound and
	// once self-sent. Exactly one fact, attributed to the higher row.
	insertMessage(t, db, 5, "do the thing", 7, false)
	insertMessage(t, db, 6, "do the thing", 7, true)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)

	tl.poll(context.Background())

	assert.Equal(t, []string{"do the thing"}, appender.texts)
	assert.Equal(t, int64(6), tl.selfCursor)
}

func TestPollCollapsesDuplicatesAcrossPolls(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 5, "do the thing", 7, false)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)

	tl.poll(context.Background())
	insertMessage(t, db, 6, "do the thing", 7, true)
	tl.poll(context.Background())

	assert.Equal(t, []string{"do the thing"}, appender.texts)
}

func TestDeliberateRepeatOutsideWindowGetsThrough(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 5, "yes", 7, false)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)
	clock := time.Now()
	tl.now = func() time.Time { return clock }

	tl.poll(context.Background())
	clock = clock.Add(duplicateWindow + time.Second)
	insertMessage(t, db, 6, "yes", 7, false)
	tl.poll(context.Background())

	assert.Equal(t, []string{"yes", "yes"}, appender.texts)
}

func TestPollSkipsOwnOutboundMarker(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 1, "🤖 [work:0.0] done (repo)", 7, true)
	insertMessage(t, db, 2, "real reply", 7, false)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)

	tl.poll(context.Background())

	assert.Equal(t, []string{"real reply"}, appender.texts)
}

func TestPollIgnoresOtherHandles(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 1, "from somebody else", 99, false)

	appender := &fakeAppender{}
	tl := newTestTailer(t, path, appender)

	tl.poll(context.Background())

	assert.Empty(t, appender.texts)
}

func TestPollDoesNotAdvanceCursorOnAppendFailure(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 3, "important", 7, false)

	appender := &fakeAppender{err: errors.New("store down")}
	tl := newTestTailer(t, path, appender)
	tl.inboundCursor, tl.selfCursor = 0, 0

	tl.poll(context.Background())

	assert.Zero(t, tl.inboundCursor, "failed append must leave the row for retry")

	appender.err = nil
	tl.poll(context.Background())
	assert.Equal(t, []string{"important"}, appender.texts)
}

func TestLastOutgoingText(t *testing.T) {
	path, db := newChatDB(t)
	insertMessage(t, db, 1, "🤖 older", 7, true)
	insertMessage(t, db, 2, "🤖 newest", 7, true)
	insertMessage(t, db, 3, "inbound", 7, false)

	tl := newTestTailer(t, path, &fakeAppender{})

	got, ok := tl.LastOutgoingText(context.Background())
	require.True(t, ok)
	assert.Equal(t, "🤖 newest", got)
}

func TestRunExitsOnCancel(t *testing.T) {
	path, _ := newChatDB(t)
	tl := newTestTailer(t, path, &fakeAppender{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tl.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tailer did not stop on cancellation")
	}
}

func TestHighestByText(t *testing.T) {
	rows := []row{
		{rowid: 9, text: "b", fromSelf: true},
		{rowid: 3, text: "a", fromSelf: false},
		{rowid: 8, text: "b", fromSelf: false},
	}

	got := highestByText(rows)

	assert.Equal(t, map[string]int64{"a": 3, "b": 9}, got)
}
