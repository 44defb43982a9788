// Package router maps a validated collection to the handle that executes
// pipelines against it.
package router

import (
	"tradeq/internal/domain"
	apperrors "tradeq/internal/errors"
)

// Router holds one handle per enumerated collection. It is built once and
// never changes afterwards.
type Router struct {
	handles [domain.CollectionCount]domain.CollectionHandle
}

// New asks the store for a handle for every collection in the enumeration.
func New(store domain.Store) *Router {
	r := &Router{}
	for _, c := range domain.AllCollections() {
		r.handles[c] = store.Collection(c.String())
	}
	return r
}

// FromHandles builds a router from explicit handles. Collections missing
// from the map have no handle.
func FromHandles(handles map[domain.Collection]domain.CollectionHandle) *Router {
	r := &Router{}
	for c, h := range handles {
		if c.Valid() {
			r.handles[c] = h
		}
	}
	return r
}

// Route returns the handle for c. A missing handle means the service was
// wired incompletely, so the error is flagged as a configuration failure.
func (r *Router) Route(c domain.Collection) (domain.CollectionHandle, error) {
	if !c.Valid() || r.handles[c] == nil {
		e := apperrors.Newf(apperrors.UnknownCollection, "no handle configured for collection %s", c)
		e.Collection = c.String()
		e.Config = true
		return nil, e
	}
	return r.handles[c], nil
}
