package search

import (
	"context"
	"log"

	"qahub/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to a store scan.
type Service struct {
	meili *Meili
	scan  *Scan
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, scan *Scan) *Service {
	return &Service{meili: meili, scan: scan}
}

func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

// IndexQuestion indexes a question (fire-and-forget to Meilisearch).
func (s *Service) IndexQuestion(q store.Question) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFor(q)
	go func() {
		if err := s.meili.IndexQuestion(record); err != nil {
			log.Printf("search: index question %s: %v", record.ID, err)
		}
	}()
}

// DeleteQuestion removes a question from the search index (fire-and-forget).
func (s *Service) DeleteQuestion(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteQuestion(id); err != nil {
			log.Printf("search: delete question %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every stored question to Meilisearch. Called at startup.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.scan == nil {
		return
	}
	records, err := s.scan.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexQuestions(records); err != nil {
		log.Printf("search: reindex questions: %v", err)
		return
	}
	log.Printf("search: reindexed %d questions", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
