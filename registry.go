package kapper

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Registry holds the mapping strategy of every target type seen so far: a
// custom RowMapper when one was registered, otherwise an automapper with one
// compiled plan per result layout. Entries live as long as the registry.
// A Registry is safe for concurrent use.
type Registry struct {
	strategies sync.Map // reflect.Type -> *strategy
	group      singleflight.Group
	compiles   atomic.Int64 // plans compiled, for tests
}

// strategy is the installed way of building values of one type. Exactly one
// of custom and auto is set.
type strategy struct {
	custom any // RowMapper[T]
	auto   *automapper
}

// automapper owns the shape of a type and its plans, keyed by catalog.
type automapper struct {
	shape *shape
	plans sync.Map // catalogKey -> *plan
	group singleflight.Group
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterIfAbsent installs mapper as the strategy for T unless a strategy
// for T is already present. It reports whether mapper was installed; the
// first strategy installed for a type wins.
func RegisterIfAbsent[T any](r *Registry, mapper RowMapper[T]) bool {
	if mapper == nil {
		return false
	}
	_, loaded := r.strategies.LoadOrStore(reflect.TypeFor[T](), &strategy{custom: mapper})
	return !loaded
}

// resolve returns the strategy for t, building an automapper on first use.
// Concurrent first callers share a single shape description; a failed
// description is returned to every waiter and nothing is installed.
func (r *Registry) resolve(t reflect.Type) (*strategy, error) {
	if s, ok := r.strategies.Load(t); ok {
		return s.(*strategy), nil
	}
	v, err, _ := r.group.Do(typeKey(t), func() (any, error) {
		if s, ok := r.strategies.Load(t); ok {
			return s, nil
		}
		sh, err := describeShape(t)
		if err != nil {
			return nil, err
		}
		s, _ := r.strategies.LoadOrStore(t, &strategy{auto: &automapper{shape: sh}})
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*strategy), nil
}

// plan returns the compiled plan of a for cat, compiling it at most once
// per catalog layout. The second result reports whether this call compiled it.
func (r *Registry) plan(a *automapper, cat *Catalog) (*plan, bool, error) {
	key := cat.key()
	if p, ok := a.plans.Load(key); ok {
		return p.(*plan), false, nil
	}
	compiled := false
	v, err, _ := a.group.Do(fmt.Sprintf("%x/%d", key.sig, key.ncols), func() (any, error) {
		if p, ok := a.plans.Load(key); ok {
			return p, nil
		}
		p, err := compilePlan(a.shape, cat)
		if err != nil {
			return nil, err
		}
		r.compiles.Add(1)
		compiled = true
		actual, _ := a.plans.LoadOrStore(key, p)
		return actual, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*plan), compiled, nil
}

// typeKey names t uniquely for single-flighting; two distinct types can
// share a String() form when they live in different packages.
func typeKey(t reflect.Type) string {
	return fmt.Sprintf("%s#%x", t, reflect.ValueOf(t).Pointer())
}
