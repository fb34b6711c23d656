package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos/events"
)

// timeLayout sorts lexically in the same order as chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for journal entries.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/DELETE
}

func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Insert stores ev. Inserting the same event twice is a no-op.
func (r *Repository) Insert(ev events.Event) error {
	var pid any
	if value, ok := ev.PID(); ok {
		pid = value
	}
	raw := ev.Record().Heos

	_, err := r.writer.Exec(`
		INSERT OR IGNORE INTO heos_events (event_id, received_at, host, event, command, message, pid, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ReceivedAt.UTC().Format(timeLayout), ev.Host, ev.Name, ev.Command, ev.Message.Raw(), pid, string(raw))
	return err
}

// Get returns nil, nil if the entry does not exist.
func (r *Repository) Get(eventID string) (*Entry, error) {
	row := r.reader.QueryRow(`
		SELECT event_id, received_at, host, event, command, message, pid, raw
		FROM heos_events
		WHERE event_id = ?
	`, eventID)

	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// List returns matching entries newest first, plus the total match count.
func (r *Repository) List(filter Filter) ([]Entry, int, error) {
	where, args := buildWhereClause(filter)

	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM heos_events "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := r.reader.Query(`
		SELECT event_id, received_at, host, event, command, message, pid, raw
		FROM heos_events
		`+where+`
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Prune deletes entries received before cutoff and returns how many went.
func (r *Repository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`
		DELETE FROM heos_events
		WHERE received_at < ?
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhereClause(filter Filter) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filter.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, filter.Event)
	}
	if filter.Host != "" {
		conditions = append(conditions, "host = ?")
		args = append(args, filter.Host)
	}
	if filter.PID != nil {
		conditions = append(conditions, "pid = ?")
		args = append(args, *filter.PID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Until != nil {
		conditions = append(conditions, "received_at <= ?")
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var (
		entry      Entry
		receivedAt string
		pid        sql.NullInt64
		raw        string
	)
	if err := scan(&entry.EventID, &receivedAt, &entry.Host, &entry.Event, &entry.Command, &entry.Message, &pid, &raw); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(timeLayout, receivedAt)
	if err != nil {
		parsed, _ = time.Parse(time.RFC3339Nano, receivedAt)
	}
	entry.ReceivedAt = parsed

	if pid.Valid {
		value := int(pid.Int64)
		entry.PID = &value
	}
	if raw == "" {
		raw = "null"
	}
	entry.Heos = json.RawMessage(raw)
	return &entry, nil
}
