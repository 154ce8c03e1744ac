package engine

import (
	"time"

	"hitme/models"
)

func (e *Engine) Profile() models.Profile { return e.profile }

func (e *Engine) SetProfile(p models.Profile) {
	p.ID = e.owner
	e.profile = p
	e.persist()
}

func (e *Engine) Onboarded() bool { return e.onboarded }

func (e *Engine) CompleteOnboarding() bool {
	if e.onboarded {
		return false
	}
	e.onboarded = true
	e.persist()
	return true
}

// LiveDurationPreference is the default window, in minutes, for GoLive.
func (e *Engine) LiveDurationPreference() int { return e.liveDuration }

func (e *Engine) SetLiveDurationPreference(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidDuration
	}
	e.liveDuration = minutes
	e.persist()
	return nil
}

func (e *Engine) Contacts() []models.Contact { return cloneContacts(e.contacts) }

func (e *Engine) Contact(id string) (models.Contact, bool) {
	if i := e.contactIndex(id); i >= 0 {
		return cloneContact(e.contacts[i]), true
	}
	return models.Contact{}, false
}

// AddContact appends c unless a contact with the same id exists.
func (e *Engine) AddContact(c models.Contact) bool {
	if c.ID == "" || e.contactIndex(c.ID) >= 0 {
		return false
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	e.contacts = append(e.contacts, cloneContact(c))
	e.persist()
	return true
}

// ContactPatch lists the editable profile fields of a contact. Nil fields
// are left alone.
type ContactPatch struct {
	Name   *string
	Phone  *string
	Avatar *string
	Modes  *[]string
}

func (e *Engine) UpdateContact(id string, patch ContactPatch) bool {
	i := e.contactIndex(id)
	if i < 0 {
		return false
	}
	c := &e.contacts[i]
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Phone != nil {
		c.Phone = *patch.Phone
	}
	if patch.Avatar != nil {
		c.Avatar = *patch.Avatar
	}
	if patch.Modes != nil {
		c.Modes = append([]string(nil), (*patch.Modes)...)
	}
	e.persist()
	return true
}

// RemoveContact deletes the contact, every request it sent or received, and
// its place in every ranking. It returns the outbound requests that went with
// the contact.
func (e *Engine) RemoveContact(id string) ([]models.HitRequest, bool) {
	i := e.contactIndex(id)
	if i < 0 {
		return nil, false
	}
	var withdrawn []models.HitRequest
	for _, r := range e.outbound {
		if r.Involves(id) {
			withdrawn = append(withdrawn, r.Clone())
		}
	}
	e.contacts = append(e.contacts[:i], e.contacts[i+1:]...)
	e.outbound = dropInvolving(e.outbound, id)
	e.inbound = dropInvolving(e.inbound, id)
	e.pruneRankings(id)
	e.persist()
	return withdrawn, true
}

// MarkContactOnline records that the contact connected at t.
func (e *Engine) MarkContactOnline(id string, t time.Time) bool {
	i := e.contactIndex(id)
	if i < 0 {
		return false
	}
	e.contacts[i].LastOnline = &t
	e.contacts[i].LastSeen = &t
	e.persist()
	return true
}

// MarkContactSeen records the last time the contact was observed.
func (e *Engine) MarkContactSeen(id string, t time.Time) bool {
	i := e.contactIndex(id)
	if i < 0 {
		return false
	}
	e.contacts[i].LastSeen = &t
	e.persist()
	return true
}

func (e *Engine) contactIndex(id string) int {
	if id == "" {
		return -1
	}
	for i := range e.contacts {
		if e.contacts[i].ID == id {
			return i
		}
	}
	return -1
}

func dropInvolving(reqs []models.HitRequest, contactID string) []models.HitRequest {
	kept := reqs[:0]
	for _, r := range reqs {
		if !r.Involves(contactID) {
			kept = append(kept, r)
		}
	}
	return kept
}
