package engine

import (
	"strings"
	"time"

	"hitme/models"
)

var topicPresets = []string{
	"Catch up",
	"Quick call",
	"Coffee?",
	"Need a hand",
	"Long time no talk",
}

// DefaultTopic generates a topic for a request created without one.
func DefaultTopic(now time.Time) string {
	return topicPresets[uint64(now.Unix())%uint64(len(topicPresets))]
}

// RequestPatch lists the fields UpdateRequest merges. Nil pointers are left
// alone. ClearExpiry turns the request into a favorite and wins over
// ExpiresAt.
type RequestPatch struct {
	Topic       *string
	Urgency     *models.Urgency
	Status      *models.Status
	ExpiresAt   *time.Time
	ClearExpiry bool
}

func (p RequestPatch) apply(r *models.HitRequest) {
	if p.Topic != nil {
		r.Topic = *p.Topic
	}
	if p.Urgency != nil {
		r.Urgency = *p.Urgency
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	switch {
	case p.ClearExpiry:
		r.ExpiresAt = nil
	case p.ExpiresAt != nil:
		t := *p.ExpiresAt
		r.ExpiresAt = &t
	}
}

// AddOutboundRequest queues a new pending request from senderID to receiverID.
func (e *Engine) AddOutboundRequest(senderID, receiverID, topic string, urgency models.Urgency, expiresAt *time.Time) (models.HitRequest, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return models.HitRequest{}, ErrReceiverRequired
	}

	req := models.HitRequest{
		ID:         e.newID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Topic:      topic,
		Urgency:    urgency,
		CreatedAt:  e.clock.Now(),
		Status:     models.StatusPending,
	}
	if expiresAt != nil {
		t := *expiresAt
		req.ExpiresAt = &t
	}

	e.outbound = append(e.outbound, req)
	e.log.Debug("request_added", "id", req.ID, "receiver", receiverID, "urgency", urgency.String(), "favorite", req.IsFavorite())
	e.persist()
	return req.Clone(), nil
}

// ReceiveInboundRequest files a copy of another account's outbound request.
// A request whose id is already known is ignored.
func (e *Engine) ReceiveInboundRequest(req models.HitRequest) bool {
	if req.ID == "" {
		return false
	}
	if _, ok := e.Request(req.ID); ok {
		return false
	}
	e.inbound = append(e.inbound, req.Clone())
	e.persist()
	return true
}

// Request looks the id up in both collections.
func (e *Engine) Request(id string) (models.HitRequest, bool) {
	if r := e.lookup(id); r != nil {
		return r.Clone(), true
	}
	return models.HitRequest{}, false
}

// IsOutbound reports whether id belongs to the outbound collection.
func (e *Engine) IsOutbound(id string) bool {
	return indexOf(e.outbound, id) >= 0
}

func (e *Engine) Outbound() []models.HitRequest { return cloneRequests(e.outbound) }

func (e *Engine) Inbound() []models.HitRequest { return cloneRequests(e.inbound) }

// UpdateRequest merges patch into the request. It does not police status
// transitions.
func (e *Engine) UpdateRequest(id string, patch RequestPatch) bool {
	r := e.lookup(id)
	if r == nil {
		return false
	}
	patch.apply(r)
	e.persist()
	return true
}

// MirrorRequest copies the other side's fields onto the local copy of req and
// returns the copy afterwards; unknown ids are ignored. The status only moves
// along a legal edge: a completed or dismissed copy keeps its status, a
// pending copy may become expired or completed, and an expired copy returns
// to pending only when revive is set.
func (e *Engine) MirrorRequest(req models.HitRequest, revive bool) (models.HitRequest, bool) {
	r := e.lookup(req.ID)
	if r == nil {
		return models.HitRequest{}, false
	}
	status := mirroredStatus(r.Status, req.Status, revive)
	*r = req.Clone()
	r.Status = status
	e.persist()
	return r.Clone(), true
}

func mirroredStatus(cur, next models.Status, revive bool) models.Status {
	switch cur {
	case models.StatusPending:
		if next == models.StatusExpired || next == models.StatusCompleted {
			return next
		}
	case models.StatusExpired:
		if next == models.StatusCompleted || (next == models.StatusPending && revive) {
			return next
		}
	}
	return cur
}

// DeleteRequest removes the request from whichever collection holds it.
func (e *Engine) DeleteRequest(id string) bool {
	var removed bool
	if i := indexOf(e.outbound, id); i >= 0 {
		e.outbound = append(e.outbound[:i], e.outbound[i+1:]...)
		removed = true
	}
	if i := indexOf(e.inbound, id); i >= 0 {
		e.inbound = append(e.inbound[:i], e.inbound[i+1:]...)
		removed = true
	}
	if removed {
		e.persist()
	}
	return removed
}

func (e *Engine) UpdateRequestStatus(id string, status models.Status) bool {
	var changed bool
	if i := indexOf(e.outbound, id); i >= 0 {
		e.outbound[i].Status = status
		changed = true
	}
	if i := indexOf(e.inbound, id); i >= 0 {
		e.inbound[i].Status = status
		changed = true
	}
	if changed {
		e.persist()
	}
	return changed
}

// DismissRequest hides an inbound request from every view. The request stays
// in the store.
func (e *Engine) DismissRequest(id string) bool {
	i := indexOf(e.inbound, id)
	if i < 0 {
		return false
	}
	e.inbound[i].Status = models.StatusDismissed
	e.persist()
	return true
}

// ExtendRequest revives an expired request: it goes back to pending with a
// deadline of now plus the configured extend duration. Requests that are not
// expired are left untouched.
func (e *Engine) ExtendRequest(id string) (models.HitRequest, bool) {
	r := e.lookup(id)
	if r == nil || r.Status != models.StatusExpired {
		return models.HitRequest{}, false
	}
	deadline := e.clock.Now().Add(e.extendBy)
	r.Status = models.StatusPending
	r.ExpiresAt = &deadline
	e.persist()
	return r.Clone(), true
}

func (e *Engine) lookup(id string) *models.HitRequest {
	if i := indexOf(e.outbound, id); i >= 0 {
		return &e.outbound[i]
	}
	if i := indexOf(e.inbound, id); i >= 0 {
		return &e.inbound[i]
	}
	return nil
}

func indexOf(reqs []models.HitRequest, id string) int {
	if id == "" {
		return -1
	}
	for i := range reqs {
		if reqs[i].ID == id {
			return i
		}
	}
	return -1
}
