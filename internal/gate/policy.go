package gate

import "net/http"

// Policy decides whether a request may proceed to its handler.
type Policy interface {
	Admit(r *http.Request) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(r *http.Request) bool

func (f PolicyFunc) Admit(r *http.Request) bool { return f(r) }

// DenyAll rejects every request.
var DenyAll Policy = PolicyFunc(func(*http.Request) bool { return false })

// AllowAll admits every request.
var AllowAll Policy = PolicyFunc(func(*http.Request) bool { return true })

// All admits a request only if every policy admits it. Policies are evaluated
// in order and evaluation stops at the first denial. An empty All admits.
func All(policies ...Policy) Policy {
	if len(policies) == 1 {
		return policies[0]
	}
	return PolicyFunc(func(r *http.Request) bool {
		for _, p := range policies {
			if !p.Admit(r) {
				return false
			}
		}
		return true
	})
}
