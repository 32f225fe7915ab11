/*
Copyright 2025 The goARRG Authors.

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

package vxm

import (
	"bytes"
	"fmt"
	"sync"
)

type MultiPipeCacheStats struct {
	Contexts uint32
	Reused   uint64
	Hits     uint64
	Misses   uint64
}

type multiPipeCache struct {
	mtx     sync.Mutex
	current *MultiPipeContext
	cache   map[string]*MultiPipeContext
	reused  uint64
	hits    uint64
	misses  uint64
}

func (c *multiPipeCache) MarshalJSON() ([]byte, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	buff := bytes.Buffer{}
	buff.WriteString("{")

	{
		buff.WriteString("\"cache\": {")
		err := mapRunFuncSorted(c.cache, func(k string, v *MultiPipeContext) error {
			buff.WriteString(fmt.Sprintf("%q: %s,", k, jsonString(v.option)))
			return nil
		})
		if err == nil {
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("},")
	}
	buff.WriteString(fmt.Sprintf("\"reused\": %d,", c.reused))
	buff.WriteString(fmt.Sprintf("\"hits\": %d,", c.hits))
	buff.WriteString(fmt.Sprintf("\"misses\": %d", c.misses))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

/*
createOrRetrieve returns the context for option. The current context is kept while
options keep matching, otherwise a context with the same option id is taken from the
cache or built. The bool reports whether no new context had to be built.
*/
func (c *multiPipeCache) createOrRetrieve(ctx *Context, option ScalabilityOption) (*MultiPipeContext, bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.current != nil && c.current.option.IsMatched(option) {
		c.reused++
		return c.current, true, nil
	}

	id := option.id()
	if m, ok := c.cache[id]; ok {
		c.hits++
		c.current = m
		return m, true, nil
	}

	m, err := newMultiPipeContext(ctx, id, option)
	if err != nil {
		return nil, false, err
	}
	c.misses++
	c.cache[id] = m
	c.current = m
	return m, false, nil
}

func (c *multiPipeCache) stats() MultiPipeCacheStats {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return MultiPipeCacheStats{
		Contexts: uint32(len(c.cache)),
		Reused:   c.reused,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

func (c *multiPipeCache) destroy() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, m := range c.cache {
		m.destroy()
	}
	c.cache = map[string]*MultiPipeContext{}
	c.current = nil
}
