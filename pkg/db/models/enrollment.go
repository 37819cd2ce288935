package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/pkg/enums"
)

// Enrollment is the (user, course) membership granted by a completed payment.
type Enrollment struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID        string                 `gorm:"column:user_id;not null;uniqueIndex:ux_enrollments_user_course" json:"userId"`
	CourseID      string                 `gorm:"column:course_id;not null;uniqueIndex:ux_enrollments_user_course" json:"courseId"`
	TransactionID uuid.UUID              `gorm:"column:transaction_id;type:uuid;not null" json:"transactionId"`
	Status        enums.EnrollmentStatus `gorm:"column:status;not null" json:"status"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Enrollment) TableName() string { return "enrollments" }

func (e *Enrollment) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
