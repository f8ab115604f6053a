/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the engine's types
  from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.
*/
package api

import "github.com/orchard/quota-engine/quota"

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PickRequest is the body of POST /api/subjects/{id}/picks. The token
// is optional; clients that retry on network failure should send one so
// a duplicate submit replays instead of double counting.
type PickRequest struct {
	Token string `json:"token,omitempty"`
}

// CanPickDTO answers "may this subject pick right now".
type CanPickDTO struct {
	Subject string `json:"subject"`
	Day     string `json:"day"`
	CanPick bool   `json:"can_pick"`
}

// LifetimeDTO carries the lifetime pick total.
type LifetimeDTO struct {
	Subject  string `json:"subject"`
	Lifetime int    `json:"lifetime"`
}

// StreakDTO carries the consecutive-day streak.
type StreakDTO struct {
	Subject string `json:"subject"`
	Day     string `json:"day"`
	Streak  int    `json:"streak"`
}

// EntryDTO is one history row.
type EntryDTO struct {
	Day         string `json:"day"`
	PickCount   int    `json:"pick_count"`
	RewardCount int    `json:"reward_count"`
	Allowance   int    `json:"allowance"`
}

// HistoryDTO is the response of GET /api/subjects/{id}/history.
type HistoryDTO struct {
	Subject string     `json:"subject"`
	Entries []EntryDTO `json:"entries"`
}

// ErrorDTO is the uniform error body.
type ErrorDTO struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func entryDTO(e quota.Entry) EntryDTO {
	return EntryDTO{
		Day:         string(e.Day),
		PickCount:   e.PickCount,
		RewardCount: e.RewardCount,
		Allowance:   e.Allowance,
	}
}
