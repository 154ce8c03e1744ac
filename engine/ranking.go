package engine

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"hitme/models"
)

// KnownModes returns the configured modes followed by any other mode a
// contact is tagged with, sorted.
func (e *Engine) KnownModes() []string {
	seen := make(map[string]bool, len(e.modes))
	modes := make([]string, 0, len(e.modes))
	for _, m := range e.modes {
		if m != "" && !seen[m] {
			seen[m] = true
			modes = append(modes, m)
		}
	}
	var extra []string
	for _, c := range e.contacts {
		for _, m := range c.Modes {
			if m != "" && !seen[m] {
				seen[m] = true
				extra = append(extra, m)
			}
		}
	}
	sort.Strings(extra)
	return append(modes, extra...)
}

func (e *Engine) isKnownMode(mode string) bool {
	for _, m := range e.KnownModes() {
		if m == mode {
			return true
		}
	}
	return false
}

// ContactsInMode returns the contacts tagged with mode in insertion order.
func (e *Engine) ContactsInMode(mode string) []models.Contact {
	var out []models.Contact
	for _, c := range e.contacts {
		if c.InMode(mode) {
			out = append(out, cloneContact(c))
		}
	}
	return out
}

// Ranking returns the stored order for mode.
func (e *Engine) Ranking(mode string) ([]string, bool) {
	ids, ok := e.rankings[mode]
	return append([]string(nil), ids...), ok
}

// InitializeModeRankings gives every known mode without a ranking a default
// one: its contacts in insertion order. Existing rankings are kept.
func (e *Engine) InitializeModeRankings() bool {
	var created bool
	for _, mode := range e.KnownModes() {
		if _, ok := e.rankings[mode]; ok {
			continue
		}
		ids := []string{}
		for _, c := range e.contacts {
			if c.InMode(mode) {
				ids = append(ids, c.ID)
			}
		}
		e.rankings[mode] = ids
		created = true
	}
	if created {
		e.persist()
	}
	return created
}

// ReorderContactsInMode stores ids as the new order for mode. ids must be a
// permutation of the contacts currently tagged with mode; anything else is
// ignored.
func (e *Engine) ReorderContactsInMode(mode string, ids []string) bool {
	if !e.isKnownMode(mode) {
		return false
	}
	members := e.ContactsInMode(mode)
	if len(members) != len(ids) {
		return false
	}
	want := make(map[string]bool, len(members))
	for _, c := range members {
		want[c.ID] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}

	e.rankings[mode] = append([]string(nil), ids...)
	e.persist()
	return true
}

// RankedContacts orders the contacts of mode by the stored ranking. With no
// mode it returns every contact alphabetically.
func (e *Engine) RankedContacts(mode string) []models.Contact {
	if mode == "" {
		return RankContacts(cloneContacts(e.contacts), nil)
	}
	return RankContacts(e.ContactsInMode(mode), e.rankings[mode])
}

// RankContacts sorts contacts by their position in ranking. Contacts missing
// from ranking go last, alphabetically by name, then by id.
func RankContacts(contacts []models.Contact, ranking []string) []models.Contact {
	pos := make(map[string]int, len(ranking))
	for i, id := range ranking {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	col := collate.New(language.Und, collate.IgnoreCase)

	sort.SliceStable(contacts, func(i, j int) bool {
		pi, ri := pos[contacts[i].ID]
		pj, rj := pos[contacts[j].ID]
		switch {
		case ri && rj:
			return pi < pj
		case ri != rj:
			return ri
		}
		if c := col.CompareString(contacts[i].Name, contacts[j].Name); c != 0 {
			return c < 0
		}
		return contacts[i].ID < contacts[j].ID
	})
	return contacts
}

func (e *Engine) pruneRankings(contactID string) {
	for mode, ids := range e.rankings {
		kept := ids[:0]
		for _, id := range ids {
			if id != contactID {
				kept = append(kept, id)
			}
		}
		e.rankings[mode] = kept
	}
}
