package models

import "time"

// Global role names. Project-scoped roles are a separate namespace, see ProjectMember.
const (
	RoleAdmin          = "admin"
	RoleProjectManager = "project_manager"
	RoleTeamMember     = "team_member"
)

// Project-scoped roles carried on the ProjectMember join row.
const (
	ProjectRoleMember         = "member"
	ProjectRoleDeveloper      = "developer"
	ProjectRoleProjectManager = "project_manager"
	ProjectRoleViewer         = "viewer"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FirstName    string    `gorm:"size:50" json:"first_name"`
	LastName     string    `gorm:"size:50" json:"last_name"`
	Username     string    `gorm:"size:50;unique;not null" json:"username"`
	Email        string    `gorm:"size:100;unique;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Active       bool      `gorm:"default:true" json:"active"`
	Roles        []Role    `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleNames flattens the joined roles for claims and responses.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

type Role struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:50;unique;not null" json:"name"`
}

type Project struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"size:200;not null" json:"name"`
	Slug        string     `gorm:"size:220;unique;not null" json:"slug"`
	Description string     `json:"description"`
	Status      string     `gorm:"size:20;default:planning" json:"status"`
	Priority    string     `gorm:"size:20;default:medium" json:"priority"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	Budget      float64    `gorm:"type:decimal(12,2);default:0" json:"budget"`
	CreatedByID uint       `gorm:"not null" json:"created_by_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Members []ProjectMember `gorm:"constraint:OnDelete:CASCADE" json:"members,omitempty"`
}

type ProjectMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_project_user" json:"project_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_project_user" json:"user_id"`
	Role      string    `gorm:"size:20;not null;default:member" json:"role"`
	CreatedAt time.Time `json:"joined_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

type Milestone struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"not null;index" json:"project_id"`
	Name        string     `gorm:"size:200;not null" json:"name"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Status      string     `gorm:"size:20;default:pending" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Project Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Task struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ProjectID          uint       `gorm:"not null;index" json:"project_id"`
	MilestoneID        *uint      `gorm:"index" json:"milestone_id"`
	ParentTaskID       *uint      `gorm:"index" json:"parent_task_id"`
	AssigneeID         *uint      `gorm:"index" json:"assignee_id"`
	CreatedByID        uint       `gorm:"not null" json:"created_by_id"`
	Title              string     `gorm:"size:200;not null" json:"title"`
	Description        string     `json:"description"`
	Status             string     `gorm:"size:20;default:todo" json:"status"`
	Priority           string     `gorm:"size:20;default:medium" json:"priority"`
	ProgressPercentage int        `gorm:"default:0" json:"progress_percentage"`
	EstimatedHours     float64    `gorm:"type:decimal(8,2);default:0" json:"estimated_hours"`
	ActualHours        float64    `gorm:"type:decimal(8,2);default:0" json:"actual_hours"`
	DueDate            *time.Time `json:"due_date"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Project  Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Subtasks []Task  `gorm:"foreignKey:ParentTaskID" json:"subtasks,omitempty"`
}

// Comment attaches to exactly one of a task, project, or milestone. Replies are
// single level and must target the same parent entity as the comment they answer.
type Comment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TaskID          *uint     `gorm:"index" json:"task_id"`
	ProjectID       *uint     `gorm:"index" json:"project_id"`
	MilestoneID     *uint     `gorm:"index" json:"milestone_id"`
	ParentCommentID *uint     `gorm:"index" json:"parent_comment_id"`
	AuthorID        uint      `gorm:"not null" json:"author_id"`
	Body            string    `gorm:"not null" json:"body"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Author  User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Replies []Comment `gorm:"foreignKey:ParentCommentID" json:"replies,omitempty"`
}

// EntityRefCount reports how many of the three parent references are set.
func (c *Comment) EntityRefCount() int {
	n := 0
	if c.TaskID != nil {
		n++
	}
	if c.ProjectID != nil {
		n++
	}
	if c.MilestoneID != nil {
		n++
	}
	return n
}

// Attachment holds upload metadata only; the file bytes live elsewhere, keyed
// by StorageKey.
type Attachment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TaskID       uint      `gorm:"not null;index" json:"task_id"`
	FileName     string    `gorm:"size:255;not null" json:"file_name"`
	ContentType  string    `gorm:"size:100" json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	StorageKey   string    `gorm:"size:64;unique;not null" json:"storage_key"`
	UploadedByID uint      `gorm:"not null" json:"uploaded_by_id"`
	CreatedAt    time.Time `json:"created_at"`

	Task Task `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type TimeLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TaskID      *uint     `gorm:"index" json:"task_id"`
	ProjectID   uint      `gorm:"not null;index" json:"project_id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Hours       float64   `gorm:"type:decimal(6,2);not null" json:"hours"`
	LogDate     time.Time `gorm:"not null" json:"log_date"`
	Billable    bool      `gorm:"default:false" json:"billable"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Project Project `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// All lists every entity for AutoMigrate, in dependency order.
func All() []interface{} {
	return []interface{}{
		&User{}, &Role{}, &Project{}, &ProjectMember{}, &Milestone{},
		&Task{}, &Comment{}, &Attachment{}, &TimeLog{},
	}
}

// ValidTaskStatuses is the closed set accepted by task create/update/status endpoints.
var ValidTaskStatuses = map[string]bool{
	"todo":        true,
	"in_progress": true,
	"review":      true,
	"completed":   true,
	"closed":      true,
	"cancelled":   true,
}

var ValidProjectStatuses = map[string]bool{
	"planning":  true,
	"active":    true,
	"on_hold":   true,
	"completed": true,
	"cancelled": true,
}

var ValidMilestoneStatuses = map[string]bool{
	"pending":     true,
	"in_progress": true,
	"completed":   true,
	"overdue":     true,
}

var ValidPriorities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

var ValidProjectRoles = map[string]bool{
	ProjectRoleMember:         true,
	ProjectRoleDeveloper:      true,
	ProjectRoleProjectManager: true,
	ProjectRoleViewer:         true,
}
