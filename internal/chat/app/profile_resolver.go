package app

import (
	"context"
	"errors"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
)

// ProfileResolver memo of author profiles keyed by user_id.
// Owned by the event loop, lookups run on workers via lookupAuthors.
type ProfileResolver struct {
	known   map[string]domain.Author
	pending map[string]struct{}
}

// NewProfileResolver create ProfileResolver
func NewProfileResolver() *ProfileResolver {
	return &ProfileResolver{
		known:   map[string]domain.Author{},
		pending: map[string]struct{}{},
	}
}

// Lookup memoized author of userID
func (r *ProfileResolver) Lookup(userID string) (domain.Author, bool) {
	a, ok := r.known[userID]
	return a, ok
}

// Store memoize an author
func (r *ProfileResolver) Store(userID string, a domain.Author) {
	r.known[userID] = a
}

// Forget drop the memo of userID, the next need re-resolves it
func (r *ProfileResolver) Forget(userID string) {
	delete(r.known, userID)
}

// Reset drop every memo
func (r *ProfileResolver) Reset() {
	r.known = map[string]domain.Author{}
}

// Known copy of the memo, handed to workers
func (r *ProfileResolver) Known() map[string]domain.Author {
	out := make(map[string]domain.Author, len(r.known))
	for k, v := range r.known {
		out[k] = v
	}
	return out
}

// claim user ids that are neither memoized nor already being looked up,
// and mark them pending
func (r *ProfileResolver) claim(userIDs []string) []string {
	var out []string
	for _, id := range userIDs {
		if _, ok := r.known[id]; ok {
			continue
		}
		if _, ok := r.pending[id]; ok {
			continue
		}
		r.pending[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// settle clear the pending mark of userIDs
func (r *ProfileResolver) settle(userIDs []string) {
	for _, id := range userIDs {
		delete(r.pending, id)
	}
}

// authorLookup result of one worker lookup
type authorLookup struct {
	resolved map[string]domain.Author
	failed   []string
	err      error
}

// lookupAuthors point lookup of every user id.
// A missing profile resolves to the fallback author, any other error
// leaves the id in failed and is not memoized.
func lookupAuthors(ctx context.Context, repo repository.ProfileRepository, userIDs []string) authorLookup {
	res := authorLookup{resolved: make(map[string]domain.Author, len(userIDs))}
	for _, id := range userIDs {
		p, err := repo.FindByUserID(ctx, id)
		switch {
		case err == nil:
			res.resolved[id] = p.Author()
		case errors.Is(err, domain.ErrNotFound):
			res.resolved[id] = *domain.FallbackAuthor()
		default:
			res.failed = append(res.failed, id)
			res.err = err
		}
	}
	return res
}
