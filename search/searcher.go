package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/skillgraph/ai"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/ingestion"
	"github.com/poiesic/skillgraph/state"
	"github.com/poiesic/skillgraph/storage"
)

// DefaultMinSimilarity is the lowest dot product a semantic hit may have.
const DefaultMinSimilarity = 0.60

// labelBoost is added to the score of objects whose labels contain every
// query word.
const labelBoost = 0.3

// StateReader reports the current ingestion state. *state.Manager
// implements it.
type StateReader interface {
	DetermineState(ctx context.Context) (state.Snapshot, error)
}

var _ StateReader = (*state.Manager)(nil)

// Searcher provides semantic search over ingested taxonomy objects.
type Searcher struct {
	store         storage.ObjectRepository
	states        StateReader
	embedder      ai.Embedder
	minSimilarity float32
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "search")
		return nil
	}
}

// WithMinSimilarity sets the similarity threshold for semantic hits.
// Default is DefaultMinSimilarity.
func WithMinSimilarity(minSimilarity float32) Option {
	return func(s *Searcher) error {
		if minSimilarity < -1 || minSimilarity > 1 {
			return fmt.Errorf("%w: min similarity %v outside [-1, 1]", core.ErrValidation, minSimilarity)
		}
		s.minSimilarity = minSimilarity
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	store storage.ObjectRepository,
	states StateReader,
	provider ai.AIProvider,
	opts ...Option,
) (*Searcher, error) {
	if store == nil {
		return nil, ErrObjectRepositoryRequired
	}
	if states == nil {
		return nil, ErrStateReaderRequired
	}
	if provider == nil || provider.Embedder() == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		store:         store,
		states:        states,
		embedder:      provider.Embedder(),
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default().With("component", "search"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// FindSimilar searches for objects similar to the query, restricted to the
// given classes when any are passed. Returns up to maxHits results, ranked
// by relevance score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int, classes ...core.EntityClass) ([]*core.SearchResult, error) {
	return s.FindSimilarWithMonitor(ctx, query, maxHits, nil, classes...)
}

// FindSimilarWithMonitor searches like FindSimilar, reporting each stage to
// monitor.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, query string, maxHits int, monitor SearchMonitor, classes ...core.EntityClass) ([]*core.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if maxHits <= 0 {
		return []*core.SearchResult{}, nil
	}
	if err := s.ensureComplete(ctx); err != nil {
		return nil, err
	}

	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(query, classes)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	// Over-fetch so the label boost can reorder beyond the first maxHits.
	matches, err := s.store.FindSimilar(ctx, ingestion.NormalizeVector(embedding), s.minSimilarity, 2*maxHits, classes...)
	if err != nil {
		s.logger.Error("error querying for similar objects", "err", err)
		return nil, err
	}

	ids := make([]core.ID, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.Object.Id)
	}
	monitor.AfterSemanticSearch(ids)

	results := make([]*core.SearchResult, 0, len(matches))
	for _, match := range matches {
		score := match.Score
		monitor.SemanticHit(match.Object, score)

		if containsAllQueryWords(labelText(match.Object), query) {
			score += labelBoost
			monitor.LabelHit(match.Object)
		}
		results = append(results, &core.SearchResult{Object: match.Object, Score: score})
	}

	// Sort by score descending
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxHits {
		results = results[:maxHits]
	}
	monitor.Finish(results)

	return results, nil
}

func (s *Searcher) ensureComplete(ctx context.Context) error {
	snap, err := s.states.DetermineState(ctx)
	if err != nil {
		return err
	}
	if snap.Effective() != core.StateCompleted {
		return fmt.Errorf("%w: state is %s", ErrIngestionNotComplete, snap.State)
	}
	return nil
}
