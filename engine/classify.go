package engine

import (
	"sort"

	"hitme/models"
)

// Views are the outbound requests split into presentation buckets.
type Views struct {
	Favorites []models.HitRequest
	Active    []models.HitRequest
	Expired   []models.HitRequest
}

// DeriveViews buckets requests by status and expiry. Completed and dismissed
// requests land in no bucket. Each bucket is ordered by SortRequests.
func DeriveViews(reqs []models.HitRequest) Views {
	var v Views
	for _, r := range reqs {
		switch {
		case r.Status == models.StatusPending && r.ExpiresAt == nil:
			v.Favorites = append(v.Favorites, r.Clone())
		case r.Status == models.StatusPending:
			v.Active = append(v.Active, r.Clone())
		case r.Status == models.StatusExpired:
			v.Expired = append(v.Expired, r.Clone())
		}
	}
	SortRequests(v.Favorites)
	SortRequests(v.Active)
	SortRequests(v.Expired)
	return v
}

// Inbox returns the pending requests of an inbound collection in view order.
func Inbox(reqs []models.HitRequest) []models.HitRequest {
	var out []models.HitRequest
	for _, r := range reqs {
		if r.Status == models.StatusPending {
			out = append(out, r.Clone())
		}
	}
	SortRequests(out)
	return out
}

// SortRequests orders by urgency, highest first, then newest first. Requests
// equal on both keys keep their relative order.
func SortRequests(reqs []models.HitRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].Urgency != reqs[j].Urgency {
			return reqs[i].Urgency > reqs[j].Urgency
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}

func (e *Engine) Views() Views {
	return DeriveViews(e.outbound)
}

func (e *Engine) Inbox() []models.HitRequest {
	return Inbox(e.inbound)
}
