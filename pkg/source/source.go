// Package source caches the lines of the scripts being debugged.
package source

import (
	"bufio"
	"bytes"
	"os"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultSize is the number of files kept by a cache created with size 0.
const DefaultSize = 64

// Cache is a least recently used cache of source files split in lines.
// It is safe for concurrent use.
type Cache struct {
	files *lru.Cache
}

// NewCache returns a cache holding at most size files.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	files, err := lru.New(size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Cache{files: files}
}

// Lines returns every line of filename, without line terminators.
func (c *Cache) Lines(filename string) ([]string, error) {
	if v, ok := c.files.Get(filename); ok {
		return v.([]string), nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	lines := splitLines(buf)
	c.files.Add(filename, lines)
	return lines, nil
}

// Line returns line n (1-based) of filename.
func (c *Cache) Line(filename string, n int) (string, bool) {
	lines, err := c.Lines(filename)
	if err != nil || n < 1 || n > len(lines) {
		return "", false
	}
	return lines[n-1], true
}

// Set stores src as the contents of filename, replacing what was read from
// disk. Scripts compiled from memory use it to make their lines available.
func (c *Cache) Set(filename string, src []byte) {
	c.files.Add(filename, splitLines(src))
}

// Invalidate drops filename from the cache, it will be read again on the
// next access.
func (c *Cache) Invalidate(filename string) {
	c.files.Remove(filename)
}

// Purge drops every file from the cache.
func (c *Cache) Purge() {
	c.files.Purge()
}

func splitLines(buf []byte) []string {
	var lines []string
	s := bufio.NewScanner(bytes.NewReader(buf))
	s.Buffer(make([]byte, 0, 64*1024), len(buf)+1)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines
}
