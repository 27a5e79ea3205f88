/*
Copyright 2024 The CSE Runtime Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dispatcher

import "sync"

// A lockSet hands out advisory locks keyed by resource identifier. The
// engine holds at most one at a time, only around a store read-modify-
// write window, never across remote I/O: creates lock the parent for the
// sibling-name check and persist, mutations lock the resource itself.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: map[string]*lockEntry{}}
}

// lock blocks until the key's lock is held.
func (s *lockSet) lock(key string) {
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &lockEntry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
}

// unlock releases the key's lock, dropping it once nothing waits on it.
func (s *lockSet) unlock(key string) {
	s.mu.Lock()
	e := s.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()

	e.mu.Unlock()
}
