package scraper

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pageCursor walks the catalog one page at a time. The visited cache is
// sized to the page ceiling, so it never evicts a page from this traversal.
type pageCursor struct {
	current  string
	visited  int
	maxPages int
	seen     *lru.Cache[string, struct{}]
}

func newPageCursor(start string, maxPages int) (*pageCursor, error) {
	seen, err := lru.New[string, struct{}](maxPages)
	if err != nil {
		return nil, fmt.Errorf("page cursor: %w", err)
	}
	return &pageCursor{
		current:  start,
		maxPages: maxPages,
		seen:     seen,
	}, nil
}

// URL returns the page to fetch next.
func (c *pageCursor) URL() string {
	return c.current
}

// Page returns the 1-based number of the current page.
func (c *pageCursor) Page() int {
	return c.visited + 1
}

// Done reports whether the traversal is over: no next link, or the page
// ceiling has been reached.
func (c *pageCursor) Done() bool {
	return c.current == "" || c.visited >= c.maxPages
}

// CeilingReached reports whether traversal stopped with pages left to visit.
func (c *pageCursor) CeilingReached() bool {
	return c.current != "" && c.visited >= c.maxPages
}

// MarkVisited records the current page as fetched.
func (c *pageCursor) MarkVisited() {
	c.seen.Add(c.current, struct{}{})
	c.visited++
}

// Advance moves to next. An empty next ends the traversal; a next that was
// already visited ends it too and returns false.
func (c *pageCursor) Advance(next string) bool {
	if next == "" {
		c.current = ""
		return true
	}
	if c.seen.Contains(next) {
		c.current = ""
		return false
	}
	c.current = next
	return true
}

// Visited returns the number of pages fetched so far.
func (c *pageCursor) Visited() int {
	return c.visited
}
