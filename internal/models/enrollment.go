package models

// Enrollment is owned by the course catalogue. The chat core only reads it
// to decide room membership; CohortID is empty for course-only enrollments.
type Enrollment struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   string `gorm:"type:varchar(64);not null;index:idx_enrollment_user_course;index:idx_enrollment_user_cohort" json:"user_id"`
	CourseID string `gorm:"type:varchar(64);not null;index:idx_enrollment_user_course" json:"course_id"`
	CohortID string `gorm:"type:varchar(64);index:idx_enrollment_user_cohort" json:"cohort_id,omitempty"`
}
