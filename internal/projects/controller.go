package projects

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
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

type createDTO struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	StartDate   *string  `json:"start_date"`
	EndDate     *string  `json:"end_date"`
	Budget      *float64 `json:"budget"`
}

type updateDTO struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Status      *string  `json:"status"`
	Priority    *string  `json:"priority"`
	StartDate   *string  `json:"start_date"`
	EndDate     *string  `json:"end_date"`
	Budget      *float64 `json:"budget"`
}

// List returns the projects visible to the actor: everything for admins,
// membership-scoped otherwise. Filters: status, priority, search.
func (ct *Controller) List(c *gin.Context) {
	actor := auth.ActorFrom(c)
	page, limit := httpx.PageParams(c)

	q := ct.db.Model(&models.Project{})
	if !actor.IsAdmin() {
		q = q.Where("id IN (?)",
			ct.db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", actor.UserID))
	}
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	if p := c.Query("priority"); p != "" {
		q = q.Where("priority = ?", p)
	}
	if search := c.Query("search"); search != "" {
		q = q.Where("name LIKE ? OR description LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count projects"))
		return
	}

	var projects []models.Project
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&projects).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list projects"))
		return
	}

	httpx.OKPage(c, projects, httpx.NewPagination(page, limit, total))
}

// detailView is the enriched get-by-id payload.
type detailView struct {
	models.Project
	TaskCount       int64 `json:"task_count"`
	CompletedTasks  int64 `json:"completed_task_count"`
	MilestoneCount  int64 `json:"milestone_count"`
	MemberCount     int64 `json:"member_count"`
	ProgressPercent int   `json:"progress_percentage"`
}

func (ct *Controller) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	var project models.Project
	if err := ct.db.Preload("Members.User").First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("project not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load project"))
		return
	}

	if err := ct.policy.CanViewProject(actor, project.ID); err != nil {
		httpx.Fail(c, err)
		return
	}

	view := detailView{Project: project}
	ct.db.Model(&models.Task{}).Where("project_id = ?", id).Count(&view.TaskCount)
	ct.db.Model(&models.Task{}).Where("project_id = ? AND status = ?", id, "completed").Count(&view.CompletedTasks)
	ct.db.Model(&models.Milestone{}).Where("project_id = ?", id).Count(&view.MilestoneCount)
	ct.db.Model(&models.ProjectMember{}).Where("project_id = ?", id).Count(&view.MemberCount)
	if view.TaskCount > 0 {
		// completed/total, rounded
		view.ProgressPercent = int((view.CompletedTasks*100 + view.TaskCount/2) / view.TaskCount)
	}

	httpx.OK(c, view)
}

// Create makes the caller the project's first project_manager member.
func (ct *Controller) Create(c *gin.Context) {
	actor := auth.ActorFrom(c)

	var body createDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}
	if body.Status != "" && !models.ValidProjectStatuses[body.Status] {
		httpx.Fail(c, apperr.Validation("invalid project status %q", body.Status))
		return
	}
	if body.Priority != "" && !models.ValidPriorities[body.Priority] {
		httpx.Fail(c, apperr.Validation("invalid priority %q", body.Priority))
		return
	}

	project := models.Project{
		Name:        body.Name,
		Slug:        slug.Make(body.Name),
		Description: body.Description,
		Status:      body.Status,
		Priority:    body.Priority,
		CreatedByID: actor.UserID,
	}
	if body.Budget != nil {
		project.Budget = *body.Budget
	}
	var err error
	if project.StartDate, err = parseDate(body.StartDate); err != nil {
		httpx.Fail(c, err)
		return
	}
	if project.EndDate, err = parseDate(body.EndDate); err != nil {
		httpx.Fail(c, err)
		return
	}

	// slug must be unique; disambiguate with the row id after insert if taken
	var clash int64
	ct.db.Model(&models.Project{}).Where("slug = ?", project.Slug).Count(&clash)

	if err := ct.db.Create(&project).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "create project"))
		return
	}
	if clash > 0 {
		project.Slug = project.Slug + "-" + strconv.FormatUint(uint64(project.ID), 10)
		ct.db.Model(&project).Update("slug", project.Slug)
	}

	member := models.ProjectMember{
		ProjectID: project.ID,
		UserID:    actor.UserID,
		Role:      models.ProjectRoleProjectManager,
	}
	if err := ct.db.Create(&member).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "seed project manager"))
		return
	}

	httpx.Created(c, project)
}

// Update applies a partial patch, manager-level.
func (ct *Controller) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	var project models.Project
	if err := ct.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("project not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load project"))
		return
	}

	if err := ct.policy.CanManageProject(actor, project.ID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body updateDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	if body.Name != nil {
		project.Name = *body.Name
	}
	if body.Description != nil {
		project.Description = *body.Description
	}
	if body.Status != nil {
		if !models.ValidProjectStatuses[*body.Status] {
			httpx.Fail(c, apperr.Validation("invalid project status %q", *body.Status))
			return
		}
		project.Status = *body.Status
	}
	if body.Priority != nil {
		if !models.ValidPriorities[*body.Priority] {
			httpx.Fail(c, apperr.Validation("invalid priority %q", *body.Priority))
			return
		}
		project.Priority = *body.Priority
	}
	if body.Budget != nil {
		project.Budget = *body.Budget
	}
	if body.StartDate != nil {
		d, err := parseDate(body.StartDate)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		project.StartDate = d
	}
	if body.EndDate != nil {
		d, err := parseDate(body.EndDate)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		project.EndDate = d
	}

	if err := ct.db.Save(&project).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update project"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventProjectUpdate, ProjectID: project.ID, Payload: project})
	httpx.OK(c, project)
}

// Delete removes the project and, through the schema cascades, everything
// hanging off it.
func (ct *Controller) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	var project models.Project
	if err := ct.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("project not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load project"))
		return
	}

	if err := ct.policy.CanManageProject(actor, project.ID); err != nil {
		httpx.Fail(c, err)
		return
	}

	if err := ct.db.Transaction(func(tx *gorm.DB) error {
		pid := project.ID
		if err := tx.Where("project_id = ?", pid).Delete(&models.TimeLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ? OR task_id IN (?) OR milestone_id IN (?)", pid,
			tx.Model(&models.Task{}).Select("id").Where("project_id = ?", pid),
			tx.Model(&models.Milestone{}).Select("id").Where("project_id = ?", pid),
		).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id IN (?)",
			tx.Model(&models.Task{}).Select("id").Where("project_id = ?", pid),
		).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", pid).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", pid).Delete(&models.Milestone{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", pid).Delete(&models.ProjectMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&project).Error
	}); err != nil {
		httpx.Fail(c, apperr.Internal(err, "delete project"))
		return
	}

	httpx.OK(c, gin.H{"deleted": id})
}

// Stats returns the project dashboard aggregates.
func (ct *Controller) Stats(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	var project models.Project
	if err := ct.db.First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("project not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load project"))
		return
	}

	if err := ct.policy.CanViewProject(actor, project.ID); err != nil {
		httpx.Fail(c, err)
		return
	}

	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var byStatus []statusCount
	ct.db.Model(&models.Task{}).Select("status, count(*) as count").
		Where("project_id = ?", id).Group("status").Scan(&byStatus)

	var totalHours, billableHours float64
	ct.db.Model(&models.TimeLog{}).Where("project_id = ?", id).
		Select("COALESCE(SUM(hours), 0)").Scan(&totalHours)
	ct.db.Model(&models.TimeLog{}).Where("project_id = ? AND billable = ?", id, true).
		Select("COALESCE(SUM(hours), 0)").Scan(&billableHours)

	var memberCount int64
	ct.db.Model(&models.ProjectMember{}).Where("project_id = ?", id).Count(&memberCount)

	httpx.OK(c, gin.H{
		"project_id":      id,
		"tasks_by_status": byStatus,
		"total_hours":     totalHours,
		"billable_hours":  billableHours,
		"member_count":    memberCount,
	})
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, apperr.Validation("invalid date %q, want YYYY-MM-DD", *s)
	}
	return &d, nil
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		httpx.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
