// Package testresolver is an in-memory Resolver stand-in used by the
// Coordinator's own tests. It is a plain struct implementing the Resolver
// interface rather than a generated mock, matching the rest of this
// codebase's preference for hand-written test doubles.
package testresolver

import (
	"context"

	"tunecache/internal/coreerr"
	"tunecache/internal/model"
)

// Fake is a scriptable Resolver for tests.
type Fake struct {
	ResolveFn func(ctx context.Context, songID, quality string) (model.ResolverResult, error)
	LyricFn   func(ctx context.Context, songID string) (string, error)
	InfoFn    func(ctx context.Context, songID string) (model.InfoEntry, error)
	SearchFn  func(ctx context.Context, query string) (any, error)
	OtherFn   func(ctx context.Context, method, songID string) (any, error)
}

func (f *Fake) Resolve(ctx context.Context, songID, quality string) (model.ResolverResult, error) {
	if f.ResolveFn == nil {
		return model.ResolverResult{}, &coreerr.ResolverFailedError{Reason: "not implemented"}
	}
	return f.ResolveFn(ctx, songID, quality)
}

func (f *Fake) Lyric(ctx context.Context, songID string) (string, error) {
	if f.LyricFn == nil {
		return "", &coreerr.ResolverFailedError{Reason: "not implemented"}
	}
	return f.LyricFn(ctx, songID)
}

func (f *Fake) Info(ctx context.Context, songID string) (model.InfoEntry, error) {
	if f.InfoFn == nil {
		return model.InfoEntry{}, &coreerr.ResolverFailedError{Reason: "not implemented"}
	}
	return f.InfoFn(ctx, songID)
}

func (f *Fake) Search(ctx context.Context, query string) (any, error) {
	if f.SearchFn == nil {
		return nil, &coreerr.ResolverFailedError{Reason: "not implemented"}
	}
	return f.SearchFn(ctx, query)
}

func (f *Fake) Other(ctx context.Context, method, songID string) (any, error) {
	if f.OtherFn == nil {
		return nil, &coreerr.UnknownMethodError{Method: method}
	}
	return f.OtherFn(ctx, method, songID)
}
