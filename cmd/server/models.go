package main

import (
	"time"

	"github.com/curatarr/curatarr/rules"
)

// API Request and Response Models with Swagger annotations

// CreateRuleRequest represents the request body for creating a rule
type CreateRuleRequest struct {
	LibraryID  string            `json:"library_id" example:"123e4567-e89b-12d3-a456-426614174000" binding:"required"`
	Name       string            `json:"name" example:"Expire stale movies" binding:"required"`
	Enabled    bool              `json:"enabled" example:"true"`
	DryRun     *bool             `json:"dry_run,omitempty" example:"true"`
	Logic      string            `json:"logic" example:"AND"`
	Conditions []rules.Condition `json:"conditions"`
	Actions    rules.ActionSet   `json:"actions"`
} // @name CreateRuleRequest

// UpdateRuleRequest represents the request body for updating a rule. Every
// field is optional; omitted fields keep the stored value, so a bare
// {"enabled": false} toggle never touches conditions or actions.
type UpdateRuleRequest struct {
	LibraryID  string             `json:"library_id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Name       string             `json:"name" example:"Expire stale movies"`
	Enabled    *bool              `json:"enabled,omitempty" example:"true"`
	DryRun     *bool              `json:"dry_run,omitempty" example:"false"`
	Logic      string             `json:"logic" example:"AND"`
	Conditions *[]rules.Condition `json:"conditions,omitempty"`
	Actions    *rules.ActionSet   `json:"actions,omitempty"`
} // @name UpdateRuleRequest

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
} // @name RulesListResponse

// CandidatesListResponse represents the response for listing candidates
type CandidatesListResponse struct {
	Candidates []*rules.Candidate `json:"candidates"`
} // @name CandidatesListResponse

// AddToCollectionRequest represents the manual-override request body
type AddToCollectionRequest struct {
	CollectionName string `json:"collection_name" example:"Keep" binding:"required"`
} // @name AddToCollectionRequest

// LogsListResponse represents the response for listing action logs
type LogsListResponse struct {
	Logs []*rules.ActionLog `json:"logs"`
} // @name LogsListResponse

// LibrariesListResponse represents the response for listing libraries
type LibrariesListResponse struct {
	Libraries []*rules.Library `json:"libraries"`
} // @name LibrariesListResponse

// ScanResponse acknowledges a fire-and-forget scan trigger
type ScanResponse struct {
	Status string `json:"status" example:"scan started"`
} // @name ScanResponse

// TestConnectionRequest represents the request body for testing a service
type TestConnectionRequest struct {
	URL    string `json:"url" example:"http://plex:32400" binding:"required"`
	Token  string `json:"token,omitempty"`
	APIKey string `json:"api_key,omitempty"`
} // @name TestConnectionRequest

// TestConnectionResponse reports the outcome of a connection test
type TestConnectionResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"Connection successful"`
} // @name TestConnectionResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"rule not found"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string     `json:"status" example:"healthy"`
	SchedulerRunning bool       `json:"scheduler_running" example:"true"`
	NextSweep        *time.Time `json:"next_sweep,omitempty"`
} // @name HealthResponse
