package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/logger"
)

// tailPollInterval is how often the sqlite mirror is polled for rows
// written since the last tail. The execution log itself is append-only
// and already flushed synchronously, so polling the mirror is simpler
// than watching the JSONL file for writes.
const tailPollInterval = 500 * time.Millisecond

type logRow struct {
	ID        int64  `db:"id"`
	Timestamp string `db:"timestamp"`
	Event     string `db:"event"`
	Data      string `db:"data"`
}

// Tailer polls one run's execution log sqlite mirror and broadcasts new
// rows to a Hub, tagged by phase.
type Tailer struct {
	hub        *Hub
	db         *sqlx.DB
	phase      string
	lastSeenID int64
	logger     *logger.Logger
}

// NewTailer opens the sqlite mirror at sqlitePath read-only and returns a
// Tailer ready to Run. It returns an error if the mirror cannot be
// opened; a run with no mirror (best-effort open failed when the log was
// created) simply has nothing to tail.
func NewTailer(sqlitePath, phase string, hub *Hub, log *logger.Logger) (*Tailer, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", sqlitePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open execution log mirror for tailing: %s: %w", sqlitePath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach execution log mirror for tailing: %s: %w", sqlitePath, err)
	}
	return &Tailer{
		hub:    hub,
		db:     db,
		phase:  phase,
		logger: log.WithFields(zap.String("component", "observer_tailer"), zap.String("phase", phase)),
	}, nil
}

// Run polls until ctx is canceled, broadcasting every row written since
// the last poll in event order.
func (t *Tailer) Run(ctx context.Context) {
	defer t.db.Close()

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) poll() {
	var rows []logRow
	err := t.db.Select(&rows, `SELECT id, timestamp, event, data FROM events WHERE id > ? ORDER BY id ASC`, t.lastSeenID)
	if err != nil {
		t.logger.Warn("failed to poll execution log mirror", zap.Error(err))
		return
	}

	for _, row := range rows {
		t.lastSeenID = row.ID
		t.hub.Broadcast(Message{
			Type:    row.Event,
			Phase:   t.phase,
			Payload: fmt.Sprintf(`{"timestamp":%q,"data":%s}`, row.Timestamp, row.Data),
		})
	}
}
