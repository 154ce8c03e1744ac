package models

import (
	"strings"
	"time"
)

// Urgency orders requests inside a view; higher sorts first.
type Urgency int

const (
	UrgencyLow    Urgency = 1
	UrgencyMedium Urgency = 2
	UrgencyHigh   Urgency = 3
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	}
	return "unknown"
}

// ParseUrgency accepts the wire names low/medium/high.
func ParseUrgency(s string) (Urgency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow, true
	case "medium", "med":
		return UrgencyMedium, true
	case "high":
		return UrgencyHigh, true
	}
	return 0, false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
	StatusDismissed Status = "dismissed"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusExpired, StatusCompleted, StatusDismissed:
		return st, true
	}
	return "", false
}

type Profile struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Phone  string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Avatar string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

// Contact is a friend in the owner's address book. Modes are the owner's
// tags for the contact (work, family, ...).
type Contact struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Phone      string     `json:"phone,omitempty" yaml:"phone,omitempty"`
	Avatar     string     `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
	LastOnline *time.Time `json:"last_online,omitempty" yaml:"last_online,omitempty"`
	Modes      []string   `json:"modes,omitempty" yaml:"modes,omitempty"`
}

func (c Contact) InMode(mode string) bool {
	for _, m := range c.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// HitRequest asks a friend to get in touch. A nil ExpiresAt marks a favorite.
type HitRequest struct {
	ID         string     `json:"id" yaml:"id"`
	SenderID   string     `json:"sender_id" yaml:"sender_id"`
	ReceiverID string     `json:"receiver_id" yaml:"receiver_id"`
	Topic      string     `json:"topic" yaml:"topic"`
	Urgency    Urgency    `json:"urgency" yaml:"urgency"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Status     Status     `json:"status" yaml:"status"`
}

func (r HitRequest) IsFavorite() bool {
	return r.ExpiresAt == nil
}

// Involves reports whether the contact is the sender or the receiver.
func (r HitRequest) Involves(contactID string) bool {
	return r.SenderID == contactID || r.ReceiverID == contactID
}

// Clone returns a copy that shares no pointers with r.
func (r HitRequest) Clone() HitRequest {
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		r.ExpiresAt = &t
	}
	return r
}

type LiveSession struct {
	Active  bool       `json:"active" yaml:"active"`
	EndTime *time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
}

// ModeRankings maps a mode to the owner's ordering of contact ids.
type ModeRankings map[string][]string

// State is everything persisted for one account.
type State struct {
	Profile      Profile      `json:"profile" yaml:"profile"`
	Contacts     []Contact    `json:"contacts" yaml:"contacts"`
	Outbound     []HitRequest `json:"outbound" yaml:"outbound"`
	Inbound      []HitRequest `json:"inbound" yaml:"inbound"`
	LiveDuration int          `json:"live_duration" yaml:"live_duration"`
	Onboarded    bool         `json:"onboarded" yaml:"onboarded"`
	Rankings     ModeRankings `json:"rankings" yaml:"rankings"`
	Live         LiveSession  `json:"live" yaml:"live"`
}
