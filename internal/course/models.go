package course

const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"

	StatusActive  = "active"
	StatusRemoved = "removed"

	VisibilityEnrolledOnly  = "enrolled_only"
	VisibilityPublicCatalog = "public_catalog"
)

type Course struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Code       string `json:"code"`
	Term       string `json:"term"`
	Archived   bool   `json:"archived"`
	Visibility string `json:"visibility"`
	CreatedBy  string `json:"createdBy"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

type Enrollment struct {
	CourseID  string `json:"courseId"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`   // student | instructor
	Status    string `json:"status"` // active | removed
	AddedBy   string `json:"addedBy,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}
