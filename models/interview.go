package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InterviewSession represents one mock interview from setup through report generation
type InterviewSession struct {
	ID     string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID string `gorm:"type:varchar(36);index" json:"user_id"`

	// Inputs, fixed at creation
	Position              string  `gorm:"type:text;not null" json:"position"`
	ResumeContent         string  `gorm:"type:text;not null" json:"resume_content"`
	JobDescription        string  `gorm:"type:text" json:"job_description,omitempty"`
	CompanyName           string  `gorm:"size:255" json:"company_name,omitempty"`
	CompanyContextSummary *string `gorm:"type:text" json:"company_context_summary,omitempty"`
	AdditionalInfo        string  `gorm:"type:text" json:"additional_info,omitempty"`

	// Setup loop
	ConfirmationText string `gorm:"type:text" json:"confirmation_text,omitempty"`
	Confirmed        bool   `gorm:"not null;default:false" json:"confirmed"`

	// Configuration, set at StartSession
	Provider       string     `gorm:"size:20" json:"provider,omitempty"`
	Model          string     `gorm:"size:100" json:"model,omitempty"`
	Difficulty     Difficulty `gorm:"size:20" json:"difficulty,omitempty"`
	TotalQuestions int        `gorm:"not null;default:10" json:"total_questions"`

	// Progress
	Status               SessionStatus `gorm:"size:20;not null;default:'CONFIGURING';index;check:status IN ('CONFIGURING', 'IN_PROGRESS', 'COMPLETED', 'FAILED', 'TIMEOUT')" json:"status"`
	CurrentQuestionIndex int           `gorm:"not null;default:0" json:"current_question_index"`
	AwaitingQuestion     bool          `gorm:"not null;default:false" json:"awaiting_question"`
	ErrorCount           int           `gorm:"not null;default:0" json:"error_count"`

	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastActivityAt time.Time  `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Relationships
	Messages []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
	Report   *Report   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"report,omitempty"`
}

func (s *InterviewSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = time.Now()
	}
	return nil
}

// ScoringMatrix holds the four fixed 0-10 sub-scores of a report
type ScoringMatrix struct {
	SkillMatch            float64 `json:"skill_match"`
	CompanyFit            float64 `json:"company_fit"`
	CommunicationClarity  float64 `json:"communication_clarity"`
	StarMethodApplication float64 `json:"star_method_application"`
}

// QuestionAnalysis is the evaluation of a single question/answer pair
type QuestionAnalysis struct {
	Question             string `json:"question"`
	Answer               string `json:"answer"`
	FeedbackStrengths    string `json:"feedback_strengths"`
	FeedbackImprovements string `json:"feedback_improvements"`
	SuggestedAnswer      string `json:"suggested_answer"`
}

// Report stores the structured post-interview evaluation; one per session, overwritten on regeneration
type Report struct {
	ID                   string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID            string             `gorm:"type:varchar(36);not null;uniqueIndex" json:"session_id"`
	OverallScore         float64            `gorm:"not null;check:overall_score >= 0 AND overall_score <= 100" json:"overall_score"`
	OverallSummary       string             `gorm:"type:text" json:"overall_summary"`
	ScoringMatrix        ScoringMatrix      `gorm:"type:text;serializer:json" json:"scoring_matrix"`
	PerQuestionAnalysis  []QuestionAnalysis `gorm:"type:text;serializer:json" json:"per_question_analysis"`
	FinalRecommendations []string           `gorm:"type:text;serializer:json" json:"final_recommendations"`
	IsPlaceholder        bool               `gorm:"not null;default:false" json:"is_placeholder"`
	Attempts             int                `gorm:"not null;default:1" json:"-"`
	GeneratedAt          time.Time          `gorm:"not null" json:"generated_at"`
	CreatedAt            time.Time          `json:"-"`
	UpdatedAt            time.Time          `json:"-"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
