package store

import "time"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserRecord is the persisted form of a User.
type UserRecord struct {
	User
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Image is an inline binary image. Data is base64 encoded in JSON.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type ChatMessage struct {
	ID                    string            `json:"id"`
	Role                  MessageRole       `json:"role"`
	Text                  string            `json:"text"`
	Image                 *Image            `json:"image,omitempty"`
	Data                  *WellnessResponse `json:"data,omitempty"`
	Timestamp             time.Time         `json:"timestamp"`
	IsRoleSelectionPrompt bool              `json:"is_role_selection_prompt,omitempty"`
}

type ChatSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Timestamp time.Time     `json:"timestamp"`
	Preview   string        `json:"preview"`
	Messages  []ChatMessage `json:"messages"`
}

type Tone string

const (
	ToneCalmGentle      Tone = "Calm & Gentle"
	ToneDirectPractical Tone = "Direct & Practical"
	ToneMotivational    Tone = "Motivational"
)

var Tones = []Tone{ToneCalmGentle, ToneDirectPractical, ToneMotivational}

func (t Tone) Valid() bool {
	for _, v := range Tones {
		if v == t {
			return true
		}
	}
	return false
}

type Preferences struct {
	Tone     Tone `json:"tone"`
	StepMode bool `json:"step_mode"`
}

func DefaultPreferences() Preferences {
	return Preferences{Tone: ToneCalmGentle}
}

type WellnessCondition string

const (
	ConditionDepressionLow   WellnessCondition = "Depression-like low mood"
	ConditionUnhappySad      WellnessCondition = "Unhappy / sadness"
	ConditionAngerFrustrated WellnessCondition = "Anger / frustration"
	ConditionStressPressure  WellnessCondition = "Stress / pressure"
	ConditionAnxietyRestless WellnessCondition = "Anxiety-like restlessness"
	ConditionNone            WellnessCondition = "Balanced / Stable"
)

type YouTubeResource struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// WellnessResponse is the structured guidance attached to an assistant message.
// Condition and AICommentary are always set; every other field is best-effort.
type WellnessResponse struct {
	Condition   WellnessCondition `json:"condition"`
	Confidence  string            `json:"confidence,omitempty"`
	Explanation string            `json:"explanation,omitempty"`

	ImmediateActionsTitle string   `json:"immediateActionsTitle,omitempty"`
	ImmediateActions      []string `json:"immediateActions,omitempty"`

	SmallComfortsTitle string   `json:"smallComfortsTitle,omitempty"`
	SmallComforts      []string `json:"smallComforts,omitempty"`

	StepByStep []string `json:"stepByStep,omitempty"`

	YouTubeResource *YouTubeResource `json:"youtubeResource,omitempty"`
	SafetyMessage   string           `json:"safetyMessage,omitempty"`
	AICommentary    string           `json:"aiCommentary"`
	GentleReminder  string           `json:"gentleReminder,omitempty"`

	VisualizationImage  *Image `json:"visualizationImage,omitempty"`
	VisualizationPrompt string `json:"visualizationPrompt,omitempty"`
	VisualizationTitle  string `json:"visualizationTitle,omitempty"`
}
