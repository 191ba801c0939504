package team

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sovann/taskhub-core/internal/apperr"
	"github.com/sovann/taskhub-core/internal/auth"
	"github.com/sovann/taskhub-core/internal/httpx"
	"github.com/sovann/taskhub-core/internal/models"
	"github.com/sovann/taskhub-core/internal/policy"
	"github.com/sovann/taskhub-core/internal/realtime"
)

type Controller struct {
	db     *gorm.DB
	policy *policy.Evaluator
	bus    realtime.Bus
}

func NewController(db *gorm.DB, eval *policy.Evaluator, bus realtime.Bus) *Controller {
	return &Controller{db: db, policy: eval, bus: bus}
}

// ListUsers supports search, global-role, and active filters.
func (ct *Controller) ListUsers(c *gin.Context) {
	page, limit := httpx.PageParams(c)

	q := ct.db.Model(&models.User{}).Preload("Roles")
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		q = q.Where("username LIKE ? OR email LIKE ? OR first_name LIKE ? OR last_name LIKE ?",
			like, like, like, like)
	}
	if role := c.Query("role"); role != "" {
		q = q.Where("id IN (?)", ct.db.Table("user_roles").
			Select("user_roles.user_id").
			Joins("JOIN roles ON roles.id = user_roles.role_id").
			Where("roles.name = ?", role))
	}
	if active := c.Query("active"); active != "" {
		q = q.Where("active = ?", active == "true")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count users"))
		return
	}
	var users []models.User
	if err := q.Order("username ASC").Offset((page - 1) * limit).Limit(limit).Find(&users).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list users"))
		return
	}

	httpx.OKPage(c, users, httpx.NewPagination(page, limit, total))
}

// ListMembers serves the membership roster of one project.
func (ct *Controller) ListMembers(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	if err := ct.requireProject(projectID); err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanViewProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var members []models.ProjectMember
	if err := ct.db.Preload("User").Where("project_id = ?", projectID).
		Order("created_at ASC").Find(&members).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list members"))
		return
	}
	httpx.OK(c, members)
}

type addMemberDTO struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

func (ct *Controller) AddMember(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	if err := ct.requireProject(projectID); err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanManageProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body addMemberDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}
	if !models.ValidProjectRoles[body.Role] {
		httpx.Fail(c, apperr.Validation("invalid project role %q", body.Role))
		return
	}

	var user models.User
	if err := ct.db.First(&user, body.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("user not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load user"))
		return
	}

	existing, err := ct.policy.MembershipRole(body.UserID, projectID)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if existing != "" {
		httpx.Fail(c, apperr.Validation("user is already a member of this project"))
		return
	}

	member := models.ProjectMember{
		ProjectID: projectID,
		UserID:    body.UserID,
		Role:      body.Role,
	}
	if err := ct.db.Create(&member).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "add member"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTeamUpdate, ProjectID: projectID, Payload: member})
	httpx.Created(c, member)
}

type updateRoleDTO struct {
	Role string `json:"role" binding:"required"`
}

// UpdateMemberRole changes a member's project role. Demoting the last
// project_manager is rejected.
func (ct *Controller) UpdateMemberRole(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	if err := ct.requireProject(projectID); err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanManageProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body updateRoleDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}
	if !models.ValidProjectRoles[body.Role] {
		httpx.Fail(c, apperr.Validation("invalid project role %q", body.Role))
		return
	}

	var member models.ProjectMember
	if err := ct.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("member not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load member"))
		return
	}

	if member.Role == models.ProjectRoleProjectManager && body.Role != models.ProjectRoleProjectManager {
		last, err := ct.isLastProjectManager(projectID)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		if last {
			httpx.Fail(c, apperr.Validation("cannot demote the only project manager"))
			return
		}
	}

	member.Role = body.Role
	if err := ct.db.Save(&member).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update member role"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTeamUpdate, ProjectID: projectID, Payload: member})
	httpx.OK(c, member)
}

// RemoveMember drops a membership, unassigning the user's tasks in the
// project. Removing the last project_manager is rejected.
func (ct *Controller) RemoveMember(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	if err := ct.requireProject(projectID); err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanManageProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var member models.ProjectMember
	if err := ct.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("member not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load member"))
		return
	}

	if member.Role == models.ProjectRoleProjectManager {
		last, err := ct.isLastProjectManager(projectID)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		if last {
			httpx.Fail(c, apperr.Validation("cannot remove the only project manager"))
			return
		}
	}

	if err := ct.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Task{}).
			Where("project_id = ? AND assignee_id = ?", projectID, userID).
			Update("assignee_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&member).Error
	}); err != nil {
		httpx.Fail(c, apperr.Internal(err, "remove member"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTeamUpdate, ProjectID: projectID, Payload: gin.H{"removed_user_id": userID}})
	httpx.OK(c, gin.H{"removed_user_id": userID})
}

type createUserDTO struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Username  string   `json:"username" binding:"required,min=3"`
	Email     string   `json:"email" binding:"required,email"`
	Password  string   `json:"password" binding:"required,min=8"`
	Roles     []string `json:"roles"`
}

// CreateUser is admin-only.
func (ct *Controller) CreateUser(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := ct.policy.RequireAdmin(actor); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body createUserDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	hashed, err := auth.HashPassword(body.Password)
	if err != nil {
		httpx.Fail(c, apperr.Internal(err, "hash password"))
		return
	}

	user := models.User{
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		Username:     body.Username,
		Email:        body.Email,
		PasswordHash: hashed,
		Active:       true,
	}
	if len(body.Roles) > 0 {
		var roles []models.Role
		if err := ct.db.Where("name IN ?", body.Roles).Find(&roles).Error; err != nil {
			httpx.Fail(c, apperr.Internal(err, "load roles"))
			return
		}
		if len(roles) != len(body.Roles) {
			httpx.Fail(c, apperr.Validation("unknown role in %v", body.Roles))
			return
		}
		user.Roles = roles
	}

	if err := ct.db.Create(&user).Error; err != nil {
		httpx.Fail(c, apperr.Validation("username or email already in use"))
		return
	}

	httpx.Created(c, user)
}

type updateUserDTO struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateUser is admin-only; users edit themselves through the auth endpoints.
func (ct *Controller) UpdateUser(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := ct.policy.RequireAdmin(actor); err != nil {
		httpx.Fail(c, err)
		return
	}
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var user models.User
	if err := ct.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("user not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load user"))
		return
	}

	var body updateUserDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	if body.FirstName != nil {
		user.FirstName = *body.FirstName
	}
	if body.LastName != nil {
		user.LastName = *body.LastName
	}
	if body.Username != nil {
		user.Username = *body.Username
	}
	if body.Email != nil {
		user.Email = *body.Email
	}
	if body.AvatarURL != nil {
		user.AvatarURL = *body.AvatarURL
	}
	if body.Password != nil {
		hashed, err := auth.HashPassword(*body.Password)
		if err != nil {
			httpx.Fail(c, apperr.Internal(err, "hash password"))
			return
		}
		user.PasswordHash = hashed
	}

	if err := ct.db.Save(&user).Error; err != nil {
		httpx.Fail(c, apperr.Validation("username or email already in use"))
		return
	}

	httpx.OK(c, user)
}

type setRolesDTO struct {
	Roles []string `json:"roles" binding:"required"`
}

// SetRoles replaces a user's global roles. Admin-only.
func (ct *Controller) SetRoles(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := ct.policy.RequireAdmin(actor); err != nil {
		httpx.Fail(c, err)
		return
	}
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var user models.User
	if err := ct.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("user not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load user"))
		return
	}

	var body setRolesDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	var roles []models.Role
	if err := ct.db.Where("name IN ?", body.Roles).Find(&roles).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "load roles"))
		return
	}
	if len(roles) != len(body.Roles) {
		httpx.Fail(c, apperr.Validation("unknown role in %v", body.Roles))
		return
	}

	if err := ct.db.Model(&user).Association("Roles").Replace(roles); err != nil {
		httpx.Fail(c, apperr.Internal(err, "set roles"))
		return
	}

	user.Roles = roles
	httpx.OK(c, user)
}

type setStatusDTO struct {
	Active *bool `json:"active" binding:"required"`
}

// SetStatus toggles the account active flag. Admin-only.
func (ct *Controller) SetStatus(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := ct.policy.RequireAdmin(actor); err != nil {
		httpx.Fail(c, err)
		return
	}
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var user models.User
	if err := ct.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("user not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load user"))
		return
	}

	var body setStatusDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	user.Active = *body.Active
	if err := ct.db.Save(&user).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "set status"))
		return
	}

	httpx.OK(c, user)
}

// DeleteUser is admin-only and runs the whole cascade in one transaction:
// roles, memberships, task unassignment, time logs, and comments.
func (ct *Controller) DeleteUser(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := ct.policy.RequireAdmin(actor); err != nil {
		httpx.Fail(c, err)
		return
	}
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var user models.User
	if err := ct.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("user not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load user"))
		return
	}

	if err := ct.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Association("Roles").Clear(); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.ProjectMember{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Task{}).Where("assignee_id = ?", userID).
			Update("assignee_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.TimeLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", userID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	}); err != nil {
		httpx.Fail(c, apperr.Internal(err, "delete user"))
		return
	}

	httpx.OK(c, gin.H{"deleted": userID})
}

func (ct *Controller) isLastProjectManager(projectID uint) (bool, error) {
	var count int64
	if err := ct.db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND role = ?", projectID, models.ProjectRoleProjectManager).
		Count(&count).Error; err != nil {
		return false, apperr.Internal(err, "count project managers")
	}
	return count <= 1, nil
}

func (ct *Controller) requireProject(projectID uint) error {
	var p models.Project
	if err := ct.db.Select("id").First(&p, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("project not found")
		}
		return apperr.Internal(err, "load project")
	}
	return nil
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		httpx.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
