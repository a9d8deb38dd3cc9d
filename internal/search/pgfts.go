package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across tasks, announcements, and
// doc_items using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Tasks sub-query
	if q.FilterType == "" || q.FilterType == ResultTask {
		taskWhere := "t.fts @@ " + tsQuery
		if q.FilterDomain != "" {
			taskWhere += fmt.Sprintf(" AND t.domain = $%d", argN)
			args = append(args, q.FilterDomain)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.domain,
				''::text AS visibility,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, taskWhere))
	}

	// Announcements sub-query
	if q.FilterType == "" || q.FilterType == ResultAnnouncement {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'announcement'::text AS type, a.id, a.title,
				ts_headline('english', coalesce(a.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS domain,
				a.status AS visibility,
				ts_rank(a.fts, %s) AS rank
			FROM announcements a
			WHERE a.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Documentation sub-query
	if q.FilterType == "" || q.FilterType == ResultDoc {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'doc'::text AS type, d.id, d.name AS title,
				''::text AS snippet,
				''::text AS domain,
				array_to_string(ARRAY(SELECT jsonb_array_elements_text(d.viewable_by)), ',') AS visibility,
				ts_rank(d.fts, %s) AS rank
			FROM doc_items d
			WHERE d.fts @@ %s`, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, domain, visibility
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Domain, &r.Visibility); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, []AnnouncementRecord, []DocRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, domain
		FROM tasks
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.Domain); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	announcementRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, status
		FROM announcements
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load announcements: %w", err)
	}
	defer announcementRows.Close()

	announcements := make([]AnnouncementRecord, 0)
	for announcementRows.Next() {
		var a AnnouncementRecord
		if err := announcementRows.Scan(&a.ID, &a.Title, &a.Content, &a.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan announcement: %w", err)
		}
		announcements = append(announcements, a)
	}
	if err := announcementRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate announcements: %w", err)
	}

	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, kind,
			array_to_string(ARRAY(SELECT jsonb_array_elements_text(viewable_by)), ',')
		FROM doc_items
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load docs: %w", err)
	}
	defer docRows.Close()

	docs := make([]DocRecord, 0)
	for docRows.Next() {
		var d DocRecord
		if err := docRows.Scan(&d.ID, &d.Name, &d.Kind, &d.ViewableBy); err != nil {
			return nil, nil, nil, fmt.Errorf("scan doc: %w", err)
		}
		docs = append(docs, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate docs: %w", err)
	}

	return tasks, announcements, docs, nil
}
