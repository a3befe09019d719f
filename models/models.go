package models

import "strings"

// Database schema overview:
// 1. users - accounts for session ownership and admin access
// 2. refresh_tokens - hashed refresh tokens issued at login
// 3. interview_sessions - one mock interview from setup to report
// 4. messages - ordered interview transcript, unique (session_id, sequence)
// 5. reports - at most one structured evaluation per session
// 6. error_logs - append-only provider/transition failures, kept after session deletion
// 7. prompt_templates - editable system instructions per prompt phase

// SessionStatus is the lifecycle phase of an interview session
type SessionStatus string

const (
	StatusConfiguring SessionStatus = "CONFIGURING"
	StatusInProgress  SessionStatus = "IN_PROGRESS"
	StatusCompleted   SessionStatus = "COMPLETED"
	StatusFailed      SessionStatus = "FAILED"
	StatusTimeout     SessionStatus = "TIMEOUT"
)

// IsTerminal reports whether no further transition may leave this status
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// CanTransition reports whether a session may move from s to next.
// Statuses only move forward; FAILED and TIMEOUT are reachable from any non-terminal status.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusFailed, StatusTimeout:
		return true
	case StatusInProgress:
		return s == StatusConfiguring
	case StatusCompleted:
		return s == StatusInProgress
	}
	return false
}

// Difficulty is the ordered interviewer strictness level
type Difficulty string

const (
	DifficultyJunior Difficulty = "Junior"
	DifficultyMid    Difficulty = "Mid"
	DifficultySenior Difficulty = "Senior"
	DifficultyExpert Difficulty = "Expert"
)

// DefaultDifficulty is used when a session is started without one
const DefaultDifficulty = DifficultySenior

var difficultyRank = map[Difficulty]int{
	DifficultyJunior: 1,
	DifficultyMid:    2,
	DifficultySenior: 3,
	DifficultyExpert: 4,
}

// ParseDifficulty matches a difficulty name case-insensitively
func ParseDifficulty(s string) (Difficulty, bool) {
	for d := range difficultyRank {
		if strings.EqualFold(string(d), strings.TrimSpace(s)) {
			return d, true
		}
	}
	return "", false
}

// Rank orders difficulties: Junior < Mid < Senior < Expert
func (d Difficulty) Rank() int {
	return difficultyRank[d]
}

// MessageRole identifies who produced a transcript turn
type MessageRole string

const (
	RoleAI   MessageRole = "AI"
	RoleUser MessageRole = "USER"
)

// LogLevel is the severity of an error log entry
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
	LevelFatal LogLevel = "FATAL"
)
