package policy

import "strings"

// candidate is the best rule seen so far for one method.
type candidate struct {
	group  *GroupBuilder
	kind   matchKind
	length int
}

// outranks reports whether c should replace cur. Exact beats prefix beats
// regex; within a kind the longer match wins. Equal candidates keep cur, so
// the first registered group wins ties.
func (c candidate) outranks(cur candidate) bool {
	if cur.group == nil {
		return true
	}
	if c.kind != cur.kind {
		return c.kind < cur.kind
	}
	return c.length > cur.length
}

// match returns the length of the portion of fullMethod matched by r.
func (r *rule) match(fullMethod string) (int, bool) {
	switch r.kind {
	case kindExact:
		return len(r.pattern), fullMethod == r.pattern
	case kindPrefix:
		return len(r.pattern), strings.HasPrefix(fullMethod, r.pattern)
	case kindRegex:
		if loc := r.re.FindStringIndex(fullMethod); loc != nil {
			return loc[1] - loc[0], true
		}
	}
	return 0, false
}
