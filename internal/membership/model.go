package membership

import "time"

// Enrollment is one (user, batch, subject) membership row.
type Enrollment struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	BatchName   string    `gorm:"column:batch_name;primaryKey;size:190;not null"`
	SubjectName string    `gorm:"column:subject_name;primaryKey;size:190;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing enrollments.
func (Enrollment) TableName() string {
	return "enrollments"
}

// Entry identifies one (batch, subject) membership of the current user.
type Entry struct {
	BatchName   string
	SubjectName string
}

// Snapshot is an immutable membership set captured at refresh time.
type Snapshot map[Entry]struct{}

// Contains reports whether the exact (batch, subject) pair is present.
func (s Snapshot) Contains(batchName, subjectName string) bool {
	_, ok := s[Entry{BatchName: batchName, SubjectName: subjectName}]
	return ok
}
