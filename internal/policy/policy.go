// Package policy holds the authorization rules in one place: every decision is
// a function of (actor, resource, action), backed by a membership lookup.
// Controllers never inspect roles themselves.
package policy

import (
	"errors"

	"gorm.io/gorm"

	"github.com/sovann/taskhub-core/internal/apperr"
	"github.com/sovann/taskhub-core/internal/models"
)

// Actor is the authenticated caller: the user id plus the global role names
// from the JWT claims. Project-scoped roles are looked up per decision.
type Actor struct {
	UserID      uint
	GlobalRoles []string
}

func (a Actor) IsAdmin() bool {
	for _, r := range a.GlobalRoles {
		if r == models.RoleAdmin {
			return true
		}
	}
	return false
}

type Evaluator struct {
	db *gorm.DB
}

func NewEvaluator(db *gorm.DB) *Evaluator {
	return &Evaluator{db: db}
}

// MembershipRole returns the actor's project-scoped role, or "" when the actor
// is not a member.
func (e *Evaluator) MembershipRole(userID, projectID uint) (string, error) {
	var m models.ProjectMember
	err := e.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Internal(err, "membership lookup")
	}
	return m.Role, nil
}

// CanViewProject: global admins see everything; everyone else needs a
// membership row, any role.
func (e *Evaluator) CanViewProject(actor Actor, projectID uint) error {
	if actor.IsAdmin() {
		return nil
	}
	role, err := e.MembershipRole(actor.UserID, projectID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.AccessDenied("you are not a member of this project")
	}
	return nil
}

// CanManageProject gates project-field updates, milestone management, and team
// composition. Only the project_manager project role qualifies. Note the
// project-role namespace deliberately has no "admin" value; global admins pass
// through the IsAdmin bypass instead.
func (e *Evaluator) CanManageProject(actor Actor, projectID uint) error {
	if actor.IsAdmin() {
		return nil
	}
	role, err := e.MembershipRole(actor.UserID, projectID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.AccessDenied("you are not a member of this project")
	}
	if role != models.ProjectRoleProjectManager {
		return apperr.Permission("requires project_manager role")
	}
	return nil
}

// CanMutateTask allows the assignee to move their own task; managers and
// admins can mutate any task in the project.
func (e *Evaluator) CanMutateTask(actor Actor, task *models.Task) error {
	if actor.IsAdmin() {
		return nil
	}
	role, err := e.MembershipRole(actor.UserID, task.ProjectID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.AccessDenied("you are not a member of this project")
	}
	if role == models.ProjectRoleProjectManager {
		return nil
	}
	if task.AssigneeID != nil && *task.AssigneeID == actor.UserID {
		return nil
	}
	return apperr.Permission("only the assignee or a project manager can modify this task")
}

// CanAssignTask and CanDeleteTask are manager-level even for the assignee.
func (e *Evaluator) CanAssignTask(actor Actor, projectID uint) error {
	return e.CanManageProject(actor, projectID)
}

func (e *Evaluator) CanDeleteTask(actor Actor, projectID uint) error {
	return e.CanManageProject(actor, projectID)
}

// CanModerateComment: the author, a global admin, or a project_manager member
// of the comment's owning project may edit or delete it.
func (e *Evaluator) CanModerateComment(actor Actor, comment *models.Comment) error {
	if comment.AuthorID == actor.UserID || actor.IsAdmin() {
		return nil
	}
	projectID, err := e.commentProjectID(comment)
	if err != nil {
		return err
	}
	role, err := e.MembershipRole(actor.UserID, projectID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.AccessDenied("you are not a member of this project")
	}
	if role != models.ProjectRoleProjectManager {
		return apperr.Permission("only the author or a project manager can modify this comment")
	}
	return nil
}

// RequireAdmin gates the global user-management endpoints.
func (e *Evaluator) RequireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return apperr.AdminOnly("admin access required")
	}
	return nil
}

// commentProjectID resolves Task->Project or Milestone->Project when the
// comment is not directly on a project.
func (e *Evaluator) commentProjectID(c *models.Comment) (uint, error) {
	switch {
	case c.ProjectID != nil:
		var p models.Project
		if err := e.db.Select("id").First(&p, *c.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, apperr.NotFound("project %d not found", *c.ProjectID)
			}
			return 0, apperr.Internal(err, "project lookup")
		}
		return *c.ProjectID, nil
	case c.TaskID != nil:
		var t models.Task
		if err := e.db.Select("project_id").First(&t, *c.TaskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, apperr.NotFound("task %d not found", *c.TaskID)
			}
			return 0, apperr.Internal(err, "task lookup")
		}
		return t.ProjectID, nil
	case c.MilestoneID != nil:
		var m models.Milestone
		if err := e.db.Select("project_id").First(&m, *c.MilestoneID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, apperr.NotFound("milestone %d not found", *c.MilestoneID)
			}
			return 0, apperr.Internal(err, "milestone lookup")
		}
		return m.ProjectID, nil
	}
	return 0, apperr.Validation("comment has no parent entity reference")
}

// ProjectForComment exposes the owning-project resolution to controllers.
func (e *Evaluator) ProjectForComment(c *models.Comment) (uint, error) {
	return e.commentProjectID(c)
}
