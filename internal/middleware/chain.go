package middleware

import "net/http"

// Stage is one named step of a request pipeline.
type Stage struct {
	Name string
	Wrap func(http.Handler) http.Handler
}

// Chain is an ordered list of stages. The first stage sees the request first.
type Chain struct {
	stages []Stage
}

func NewChain(stages ...Stage) Chain {
	return Chain{stages: append([]Stage(nil), stages...)}
}

// Append returns a new chain; c is left untouched.
func (c Chain) Append(stages ...Stage) Chain {
	out := make([]Stage, 0, len(c.stages)+len(stages))
	out = append(out, c.stages...)
	out = append(out, stages...)
	return Chain{stages: out}
}

func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c.stages) - 1; i >= 0; i-- {
		h = c.stages[i].Wrap(h)
	}
	return h
}

func (c Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

func (c Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name
	}
	return names
}
