package template

import "sync"

// Cache memoizes parsed templates by source text. Safe for concurrent use.
type Cache struct {
	m sync.Map // string -> *Template
}

// Get returns the parsed template for s, parsing it on first use.
func (c *Cache) Get(s string) (*Template, error) {
	if v, ok := c.m.Load(s); ok {
		return v.(*Template), nil
	}
	t, err := Parse(s)
	if err != nil {
		return nil, err
	}
	v, _ := c.m.LoadOrStore(s, t)
	return v.(*Template), nil
}
