package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/darkodi/shortlink/internal/model"
	"github.com/darkodi/shortlink/internal/repository"
)

// Resolver turns short codes into redirect targets.
//
// Expiry is lazy: an expired mapping stays in the store until someone
// resolves it, and that resolution deletes it and reports ErrExpired.
type Resolver struct {
	deps
}

// NewResolver creates a resolver over the same store as the URLService
func NewResolver(repo repository.Store, opts ...Option) *Resolver {
	return &Resolver{deps: newDeps(repo, opts)}
}

// Resolve counts a click and returns the permanent redirect for code
func (r *Resolver) Resolve(ctx context.Context, code string) (*model.RedirectTarget, error) {
	entry, err := r.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if entry.IsExpired(now) {
		if _, err := r.repo.DeleteByCode(ctx, code); err != nil {
			return nil, fmt.Errorf("delete expired %s: %w", code, err)
		}
		r.dropCache(ctx, code)
		r.log.Info("expired short url deleted", "short_code", code, "expired_at", entry.ExpiresAt)
		return nil, ErrExpired
	}

	mapping, err := r.repo.IncrementClicks(ctx, code, now)
	if errors.Is(err, repository.ErrNotFound) {
		// deleted between lookup and increment
		r.dropCache(ctx, code)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("count click on %s: %w", code, err)
	}

	r.log.Debug("redirect", "short_code", code, "clicks", mapping.Clicks)
	return model.NewPermanentRedirect(mapping.OriginalURL), nil
}

// lookup reads through the cache; cache errors fall back to the store
func (r *Resolver) lookup(ctx context.Context, code string) (*model.RedirectEntry, error) {
	if r.cache != nil {
		entry, err := r.cache.Get(ctx, code)
		if err != nil {
			r.log.Warn("cache read failed", "short_code", code, "error", err.Error())
		}
		if entry != nil {
			return entry, nil
		}
	}

	mapping, err := r.repo.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", code, err)
	}

	entry := mapping.RedirectEntry()
	if r.cache != nil {
		if err := r.cache.Set(ctx, code, entry); err != nil {
			r.log.Warn("cache write failed", "short_code", code, "error", err.Error())
		}
	}
	return entry, nil
}
