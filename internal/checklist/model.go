package checklist

import (
	"fmt"
	"time"
)

// Stage is a board column. The order of Stages is for display only.
type Stage string

const (
	StageBacklog    Stage = "Backlog"
	StageTodo       Stage = "Todo"
	StageInProgress Stage = "In progress"
	StageInReview   Stage = "In review"
	StageDone       Stage = "Done"
)

// Stages lists every stage in board order.
var Stages = []Stage{StageBacklog, StageTodo, StageInProgress, StageInReview, StageDone}

// Valid reports whether s is one of Stages.
func (s Stage) Valid() bool {
	for _, v := range Stages {
		if s == v {
			return true
		}
	}
	return false
}

// Key identifies an item in the store.
type Key struct {
	ID   string
	Team string
}

// String formats the key as "id/team".
func (k Key) String() string { return fmt.Sprintf("%s/%s", k.ID, k.Team) }

// Item is a checklist entry on a team board.
type Item struct {
	ID          string     `json:"id" dynamodbav:"id"`
	Team        string     `json:"team" dynamodbav:"team"`
	Title       string     `json:"title" dynamodbav:"title"`
	Description string     `json:"description" dynamodbav:"description"`
	Status      Stage      `json:"status" dynamodbav:"status"`
	CreatedAt   time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updatedAt"`
	Submitted   bool       `json:"submitted" dynamodbav:"submitted"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty" dynamodbav:"submittedAt,omitempty"`
}

// Key returns the storage key of the item.
func (i *Item) Key() Key { return Key{ID: i.ID, Team: i.Team} }

// CreateInput is the payload for creating an item.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Team        string `json:"team"`
	Status      Stage  `json:"status"`
	// AssignedTeam is the field name older clients send instead of team.
	AssignedTeam string `json:"assignedTeam,omitempty"`
}

// StatusInput is the payload for moving an item to another stage.
type StatusInput struct {
	Status Stage `json:"status"`
}

// ContentInput is the payload for editing title and description.
type ContentInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SubmitFailure describes an item the submission could not mark.
type SubmitFailure struct {
	Item  *Item  `json:"item"`
	Error string `json:"error"`
}

// SubmitResult is the outcome of a team submission.
type SubmitResult struct {
	Submitted []*Item         `json:"submitted"`
	Failed    []SubmitFailure `json:"failed"`
}
