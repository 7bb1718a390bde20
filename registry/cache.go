// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"log/slog"
	"sync"
)

// Cache builds a registry at most once and serves it to every
// subsequent caller. Concurrent first calls block on the single
// build rather than racing their own.
type Cache struct {
	build func() *Registry
	once  sync.Once
	value *Registry
}

// NewCache creates a cache around the given build function.
func NewCache(build func() *Registry) *Cache {
	return &Cache{build: build}
}

// Get returns the cached registry, building it on first use. The
// first call may block on configuration file I/O; later calls return
// immediately.
func (c *Cache) Get() *Registry {
	c.once.Do(func() {
		c.value = c.build()
	})
	return c.value
}

// processCache is the process-wide registry cache used by Cached.
var processCache = NewCache(func() *Registry {
	return Load(DataDirs(), slog.Default())
})

// Cached returns the process-wide registry, built from DataDirs on
// first use and never rebuilt within the process lifetime.
func Cached() *Registry {
	return processCache.Get()
}
