package models

import "time"

// Candidate holds the applicant fields the automation engine reads and
// mutates. The full candidate profile lives in the ATS frontend and is
// out of scope here.
type Candidate struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"not null" json:"name"`
	Email           string    `gorm:"index" json:"email"`
	Phone           string    `json:"phone"`
	Tags            string    `gorm:"type:text" json:"tags"`   // comma separated
	Skills          string    `gorm:"type:text" json:"skills"` // JSON array of strings
	YearsExperience int       `json:"years_experience"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Job is the open position an application points at.
type Job struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Title      string    `gorm:"not null" json:"title"`
	Department string    `gorm:"index" json:"department"`
	Location   string    `json:"location"`
	Seniority  string    `json:"seniority"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Application links a candidate to a job and tracks pipeline position.
type Application struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CandidateID    uint      `gorm:"index" json:"candidate_id"`
	JobID          uint      `gorm:"index" json:"job_id"`
	Status         string    `gorm:"index" json:"status"`
	Stage          string    `json:"stage"`
	MatchScore     int       `json:"match_score"`
	LastMovementAt time.Time `json:"last_movement_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CandidateNote is an annotation on a candidate, written by recruiters or
// by automation actions (type "automation").
type CandidateNote struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CandidateID uint      `gorm:"index" json:"candidate_id"`
	Author      string    `json:"author"`
	Content     string    `gorm:"type:text" json:"content"`
	Type        string    `json:"type"` // manual, automation
	CreatedAt   time.Time `json:"created_at"`
}
