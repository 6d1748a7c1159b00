package assess

const (
	ModePractice  = "practice"
	ModeScheduled = "scheduled"

	StatusDraft     = "draft"
	StatusPublished = "published"

	AttemptStarted = "started"
	AttemptGraded  = "graded"
)

// practiceAttemptTTL is the non-enforced expiry ceiling for practice
// attempts (scheduled attempts expire at start + duration).
const practiceAttemptTTLMillis = 7 * 24 * 60 * 60 * 1000

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the authoring/storage shape. The correct option id never
// leaves the server; students are served ServedQuestion instead.
type Question struct {
	ID              string   `json:"id"`
	Prompt          string   `json:"prompt"`
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"correctOptionId"`
	Points          float64  `json:"points"`
}

type Test struct {
	ID                string     `json:"id"`
	CourseID          string     `json:"courseId"`
	Title             string     `json:"title"`
	Mode              string     `json:"mode"`   // practice | scheduled
	Status            string     `json:"status"` // draft | published
	AttemptsAllowed   int        `json:"attemptsAllowed"`
	DurationMinutes   int        `json:"durationMinutes,omitempty"`
	ActiveVersion     int        `json:"activeVersion"`
	Shuffle           bool       `json:"shuffle"`
	IsAssessed        bool       `json:"isAssessed"`
	WindowStartMillis int64      `json:"windowStartMillis,omitempty"`
	WindowEndMillis   int64      `json:"windowEndMillis,omitempty"`
	PointsPossible    float64    `json:"pointsPossible"`
	Questions         []Question `json:"-"` // draft bank, instructor-only
	CreatedBy         string     `json:"createdBy"`
	CreatedAt         int64      `json:"createdAt"`
	UpdatedAt         int64      `json:"updatedAt"`
}

// Version is an immutable snapshot of a test's question bank. Once an
// attempt references it, its content never changes.
type Version struct {
	TestID         string     `json:"testId"`
	Version        int        `json:"version"`
	Questions      []Question `json:"questions"`
	PointsPossible float64    `json:"pointsPossible"`
	FrozenAt       int64      `json:"frozenAt"`
	FrozenBy       string     `json:"frozenBy,omitempty"`
}

// FormQuestion is one entry of an attempt's frozen form snapshot: the served
// question and the option ids the student may answer with. Grading accepts
// nothing outside this whitelist.
type FormQuestion struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds"`
}

// ServedQuestion is the answer-key-stripped view sent to the student.
type ServedQuestion struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Points  float64  `json:"points"`
	Options []Option `json:"options"`
}

type BreakdownItem struct {
	QuestionID string  `json:"questionId"`
	Selected   string  `json:"selected,omitempty"`
	Correct    bool    `json:"correct"`
	Points     float64 `json:"points"`
}

type Attempt struct {
	ID              string            `json:"id"` // {userID}__{attemptNo}
	TestID          string            `json:"testId"`
	UserID          string            `json:"userId"`
	AttemptNo       int               `json:"attemptNo"`
	Status          string            `json:"status"` // started | graded
	StartedAt       int64             `json:"startedAt"`
	ExpiresAtMillis int64             `json:"expiresAtMillis"`
	TestVersion     int               `json:"testVersion"`
	FormSeed        string            `json:"-"`
	Form            []FormQuestion    `json:"form,omitempty"`
	Answers         map[string]string `json:"answers,omitempty"`
	Score           float64           `json:"score"`
	Breakdown       []BreakdownItem   `json:"breakdown,omitempty"`
	GradedAt        int64             `json:"gradedAt,omitempty"`
	GradedBy        string            `json:"gradedBy,omitempty"`
}

// TestInfo is the summary returned alongside a started attempt.
type TestInfo struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Mode            string  `json:"mode"`
	DurationMinutes int     `json:"durationMinutes,omitempty"`
	Version         int     `json:"version"`
	PointsPossible  float64 `json:"pointsPossible"`
}
