package presence

import "sort"

// DefaultVisitorCap bounds how many canonical entries a snapshot may hold.
const DefaultVisitorCap = 10

// Dedup collapses raw session records into canonical visitors.
//
// The walk keeps at most one entry per identity key and at most one self
// entry. Self records are matched by operator identity or remembered session
// id, so a person who appears twice across an anonymous-to-logged-in
// transition still collapses to a single entry. Sessions already backing an
// open conversation are dropped. Output order: self first, then remaining
// entries by time on site, page count breaking ties; equal ranks keep their
// arrival order.
func Dedup(sessions []Session, op Operator, openSessions map[string]bool, limit int) []Visitor {
	if limit <= 0 {
		limit = DefaultVisitorCap
	}

	ordered := make([]Session, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastActivityAt.After(ordered[j].LastActivityAt)
	})

	var self *Session
	seen := make(map[string]bool, len(ordered))
	var rest []Session

	for i := range ordered {
		s := ordered[i]
		if op.Matches(s) {
			// Only the most recent self record survives; later ones are the
			// same person under a stale or pre-login id.
			if self == nil {
				self = &ordered[i]
				seen[s.IdentityKey()] = true
			}
			continue
		}
		key := s.IdentityKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		if openSessions[s.SessionID] {
			continue
		}
		rest = append(rest, s)
	}

	if self != nil && openSessions[self.SessionID] {
		self = nil
	}

	sort.SliceStable(rest, func(i, j int) bool {
		ti, tj := rest[i].TimeOnSite(), rest[j].TimeOnSite()
		if ti != tj {
			return ti > tj
		}
		return rest[i].PageCount > rest[j].PageCount
	})

	out := make([]Visitor, 0, limit)
	if self != nil {
		out = append(out, Visitor{Session: *self, IsSelf: true})
	}
	for _, s := range rest {
		if len(out) >= limit {
			break
		}
		out = append(out, Visitor{Session: s})
	}
	return out
}
