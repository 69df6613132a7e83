package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
	"github.com/flynn-ai/kgbridge/pkg/protocol"
)

// Upload is one ledger row for a published snapshot.
type Upload struct {
	ID          int64     `json:"id"`
	SourceID    string    `json:"source_id,omitempty"`
	FileName    string    `json:"file_name"`
	Format      string    `json:"format,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	Generation  uint64    `json:"generation"`
	GraphLoaded bool      `json:"graph_loaded"`
	Triples     int       `json:"triples"`
	Chunks      int       `json:"chunks"`
	Tools       []string  `json:"tools"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordUpload appends an upload row.
func (s *Store) RecordUpload(ctx context.Context, u *Upload) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (source_id, file_name, format, size_bytes, generation,
			graph_loaded, triples, chunks, tools, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.SourceID, u.FileName, u.Format, u.SizeBytes, int64(u.Generation),
		boolToInt(u.GraphLoaded), u.Triples, u.Chunks, strings.Join(u.Tools, ","),
		nullString(u.Error), u.CreatedAt.Unix())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to record upload", apperrors.CategorySystem)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// RecordExchange appends an answered question.
func (s *Store) RecordExchange(ctx context.Context, ex *protocol.Exchange) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger not initialized")
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (question, answer, tool_calls, model, duration_ms, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ex.Question, ex.Answer, ex.ToolCalls, nullString(ex.Model), ex.DurationMs,
		int64(ex.Generation), ex.CreatedAt.Unix())
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to record exchange", apperrors.CategorySystem)
	}
	ex.ID, _ = res.LastInsertId()
	return nil
}

// RecentExchanges returns up to limit exchanges, newest first.
func (s *Store) RecentExchanges(ctx context.Context, limit int) ([]protocol.Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, tool_calls, model, duration_ms, generation, created_at
		FROM exchanges
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to read exchanges", apperrors.CategorySystem)
	}
	defer rows.Close()

	var out []protocol.Exchange
	for rows.Next() {
		var (
			ex         protocol.Exchange
			model      sql.NullString
			generation int64
			created    int64
		)
		if err := rows.Scan(&ex.ID, &ex.Question, &ex.Answer, &ex.ToolCalls, &model,
			&ex.DurationMs, &generation, &created); err != nil {
			return nil, err
		}
		ex.Model = model.String
		ex.Generation = uint64(generation)
		ex.CreatedAt = time.Unix(created, 0)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// RecentUploads returns up to limit uploads, newest first.
func (s *Store) RecentUploads(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, file_name, format, size_bytes, generation,
			graph_loaded, triples, chunks, tools, error, created_at
		FROM uploads
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeAuditFailed, "failed to read uploads", apperrors.CategorySystem)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var (
			u                     Upload
			sourceID, format, msg sql.NullString
			generation, created   int64
			loaded                int
			tools                 string
		)
		if err := rows.Scan(&u.ID, &sourceID, &u.FileName, &format, &u.SizeBytes, &generation,
			&loaded, &u.Triples, &u.Chunks, &tools, &msg, &created); err != nil {
			return nil, err
		}
		u.SourceID = sourceID.String
		u.Format = format.String
		u.Error = msg.String
		u.Generation = uint64(generation)
		u.GraphLoaded = loaded != 0
		if tools != "" {
			u.Tools = strings.Split(tools, ",")
		}
		u.CreatedAt = time.Unix(created, 0)
		out = append(out, u)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
