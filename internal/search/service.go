package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Results the viewer's role may not see are stripped before returning.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.ViewerRole), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.ViewerRole), Total: total, Query: q.Text}
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(task TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(task); err != nil {
			s.log.Warn().Err(err).Str("id", task.ID).Msg("index task failed")
		}
	}()
}

// IndexAnnouncement indexes an announcement (fire-and-forget to Meilisearch).
func (s *Service) IndexAnnouncement(a AnnouncementRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAnnouncement(a); err != nil {
			s.log.Warn().Err(err).Str("id", a.ID).Msg("index announcement failed")
		}
	}()
}

// IndexDoc indexes a documentation item (fire-and-forget to Meilisearch).
func (s *Service) IndexDoc(d DocRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDoc(d); err != nil {
			s.log.Warn().Err(err).Str("id", d.ID).Msg("index doc failed")
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("deindex task failed")
		}
	}()
}

// DeleteAnnouncement removes an announcement from the search index (fire-and-forget).
func (s *Service) DeleteAnnouncement(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnouncement(id); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("deindex announcement failed")
		}
	}()
}

// DeleteDoc removes a documentation item from the search index (fire-and-forget).
func (s *Service) DeleteDoc(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDoc(id); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("deindex doc failed")
		}
	}()
}

// ReindexAll pushes full record sets into Meilisearch.
// Called during Bootstrap if Meilisearch is healthy.
func (s *Service) ReindexAll(tasks []TaskRecord, announcements []AnnouncementRecord, docs []DocRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(tasks) > 0 {
		if err := s.meili.IndexTasks(tasks); err != nil {
			s.log.Warn().Err(err).Msg("reindex tasks failed")
		}
	}
	if len(announcements) > 0 {
		if err := s.meili.IndexAnnouncements(announcements); err != nil {
			s.log.Warn().Err(err).Msg("reindex announcements failed")
		}
	}
	if len(docs) > 0 {
		if err := s.meili.IndexDocs(docs); err != nil {
			s.log.Warn().Err(err).Msg("reindex docs failed")
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	tasks, announcements, docs, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	s.ReindexAll(tasks, announcements, docs)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops hits the viewer's role may not see: unpublished
// announcements for non-admins and docs with a restricted viewer list.
func sanitizeResults(results []Result, viewerRole string) []Result {
	isAdmin := viewerRole == "admin" || viewerRole == "super-admin"
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		switch result.Type {
		case ResultAnnouncement:
			if !isAdmin && result.Visibility != "" && result.Visibility != "published" {
				continue
			}
		case ResultDoc:
			if !isAdmin && !roleCanView(result.Visibility, viewerRole) {
				continue
			}
		}
		filtered = append(filtered, result)
	}
	return filtered
}
