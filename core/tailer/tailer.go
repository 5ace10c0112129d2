// Package tailer watches the operator's chat database for new inbound
// messages and converts each qualifying row into exactly one ReplyReceived
// fact. It keeps one cursor per message class (inbound and self-sent),
// seeded at startup from the log's current maximum row so history is never
// replayed, and advanced only after the fact has been durably appended:
// a crash can duplicate a message but never lose one.
package tailer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// DefaultPollInterval is the fallback poll cadence when no file-change
// notification arrives.
const DefaultPollInterval = 5 * time.Second

// seenTextCacheSize bounds the cross-poll duplicate-collapse cache. Multi-
// device sync can surface the same human message as two physical rows, and
// the pair does not always land in one poll.
const seenTextCacheSize = 256

// duplicateWindow is how long a text stays a duplicate after first being
// ingested. Sync ghosts arrive within seconds; an operator deliberately
// repeating a message later must still get through.
const duplicateWindow = 30 * time.Second

// Appender is the slice of the event pipeline the tailer needs.
type Appender interface {
	AppendReplyReceived(ctx context.Context, text string) error
}

// Config configures the tailer.
type Config struct {
	// DBPath is the chat database file (e.g. ~/Library/Messages/chat.db).
	DBPath string

	// HandleIDs are the chat-handle identities whose messages qualify.
	HandleIDs []int64

	// ExcludePrefix drops rows whose text starts with this marker, so the
	// daemon's own outbound confirmations are never re-ingested as input.
	ExcludePrefix string

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Tailer tails the chat database.
type Tailer struct {
	cfg      Config
	db       *sql.DB
	appender Appender
	logger   *slog.Logger

	inboundCursor int64
	selfCursor    int64
	seenTexts     *lru.Cache[string, time.Time]

	// now is stubbed in tests.
	now func() time.Time
}

// row is one fetched chat message.
type row struct {
	rowid    int64
	text     string
	fromSelf bool
}

// New opens the chat database read-only and prepares a tailer.
func New(cfg Config, appender Appender, logger *slog.Logger) (*Tailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open chat db: %w", err)
	}

	seen, err := lru.New[string, time.Time](seenTextCacheSize)
	if err != nil {
		return nil, fmt.Errorf("seen-text cache: %w", err)
	}

	return &Tailer{
		cfg:       cfg,
		db:        db,
		appender:  appender,
		logger:    logger,
		seenTexts: seen,
		now:       time.Now,
	}, nil
}

// Close closes the chat database connection.
func (t *Tailer) Close() error {
	return t.db.Close()
}

// Run seeds the cursors, starts the dual trigger (file-change notification
// plus fallback ticker) and polls until ctx is cancelled. It always exits
// between polls, never mid-poll.
func (t *Tailer) Run(ctx context.Context) error {
	initial, err := t.maxRowID(ctx)
	if err != nil {
		t.logger.Warn("seeding cursor from chat db failed, starting at 0", "error", err)
	}
	t.inboundCursor = initial
	t.selfCursor = initial
	t.logger.Info("tailer started", "initial_rowid", initial)

	// A nil channel blocks forever, so a failed watcher setup degrades to
	// ticker-only polling instead of wedging the select.
	var changes <-chan fsnotify.Event
	watcher, err := t.startWatcher()
	if err != nil {
		t.logger.Warn("fs watcher unavailable, polling on timer only", "error", err)
	} else {
		defer watcher.Close()
		changes = watcher.Events
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tailer shutting down")
			return nil
		case event := <-changes:
			if !t.targetsChatDB(event) {
				continue
			}
			t.drain(changes)
			t.poll(ctx)
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

// startWatcher watches the chat database's parent directory. The database
// engine flushes through the -wal side file before the main file, so both
// names count as changes.
func (t *Tailer) startWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(t.cfg.DBPath)); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

func (t *Tailer) targetsChatDB(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	base := filepath.Base(t.cfg.DBPath)
	return name == base || name == base+"-wal"
}

// drain collapses a burst of change notifications into the one poll that is
// about to happen anyway.
func (t *Tailer) drain(changes <-chan fsnotify.Event) {
	for {
		select {
		case <-changes:
		default:
			return
		}
	}
}

// poll fetches rows past both cursors, collapses cross-class duplicates, and
// appends one fact per remaining row. The cursor advances only after the
// append succeeded; on failure the poll stops and the row is retried on the
// next trigger.
func (t *Tailer) poll(ctx context.Context) {
	inbound, err := t.fetchRows(ctx, t.inboundCursor, false)
	if err != nil {
		t.logger.Warn("fetching inbound rows failed", "error", err)
		return
	}
	self, err := t.fetchRows(ctx, t.selfCursor, true)
	if err != nil {
		t.logger.Warn("fetching self rows failed", "error", err)
		return
	}

	all := append(inbound, self...)
	sort.Slice(all, func(i, j int) bool { return all[i].rowid < all[j].rowid })
	highest := highestByText(all)

	for _, r := range all {
		// Multi-device sync surfaces one human message as two physical
		// rows; only the higher-numbered copy is emitted.
		if highest[r.text] != r.rowid {
			t.advance(r)
			continue
		}
		if seenAt, ok := t.seenTexts.Get(r.text); ok && t.now().Sub(seenAt) < duplicateWindow {
			t.logger.Info("skipping cross-poll duplicate", "rowid", r.rowid)
			t.advance(r)
			continue
		}
		if err := t.appender.AppendReplyReceived(ctx, r.text); err != nil {
			t.logger.Warn("appending reply fact failed, will retry", "rowid", r.rowid, "error", err)
			return
		}
		t.seenTexts.Add(r.text, t.now())
		t.advance(r)
		t.logger.Info("reply ingested", "rowid", r.rowid, "self", r.fromSelf)
	}
}

func (t *Tailer) advance(r row) {
	if r.fromSelf {
		if r.rowid > t.selfCursor {
			t.selfCursor = r.rowid
		}
		return
	}
	if r.rowid > t.inboundCursor {
		t.inboundCursor = r.rowid
	}
}

// highestByText maps each message text to its highest row number in the
// batch.
func highestByText(rows []row) map[string]int64 {
	highest := make(map[string]int64, len(rows))
	for _, r := range rows {
		if id, ok := highest[r.text]; !ok || r.rowid > id {
			highest[r.text] = r.rowid
		}
	}
	return highest
}

func (t *Tailer) fetchRows(ctx context.Context, cursor int64, fromSelf bool) ([]row, error) {
	if len(t.cfg.HandleIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT ROWID, text FROM message
		WHERE ROWID > ? AND handle_id IN (%s) AND is_from_me = ?
		  AND text IS NOT NULL AND length(text) > 0
		ORDER BY ROWID ASC`,
		placeholders(len(t.cfg.HandleIDs)),
	)
	args := make([]any, 0, len(t.cfg.HandleIDs)+2)
	args = append(args, cursor)
	for _, id := range t.cfg.HandleIDs {
		args = append(args, id)
	}
	args = append(args, boolToInt(fromSelf))

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.rowid, &r.text); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.text = strings.TrimSpace(r.text)
		r.fromSelf = fromSelf
		if r.text == "" {
			continue
		}
		if t.cfg.ExcludePrefix != "" && strings.HasPrefix(r.text, t.cfg.ExcludePrefix) {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// maxRowID returns the log's current maximum row number, 0 for an empty log.
func (t *Tailer) maxRowID(ctx context.Context) (int64, error) {
	var rowid sql.NullInt64
	if err := t.db.QueryRowContext(ctx, `SELECT MAX(ROWID) FROM message`).Scan(&rowid); err != nil {
		return 0, fmt.Errorf("max rowid: %w", err)
	}
	return rowid.Int64, nil
}

// LastOutgoingText returns the most recent self-sent text for the first
// configured handle. The notifier compares candidate away notifications
// against it to suppress duplicates.
func (t *Tailer) LastOutgoingText(ctx context.Context) (string, bool) {
	if len(t.cfg.HandleIDs) == 0 {
		return "", false
	}
	var text sql.NullString
	err := t.db.QueryRowContext(ctx, `
		SELECT text FROM message
		WHERE handle_id = ? AND is_from_me = 1
		ORDER BY ROWID DESC LIMIT 1`,
		t.cfg.HandleIDs[0],
	).Scan(&text)
	if err != nil || !text.Valid {
		return "", false
	}
	return text.String, true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
