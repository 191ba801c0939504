package milestones

import (
	"errors"
	"strconv"
	"time"

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

type createDTO struct {
	ProjectID   uint    `json:"project_id" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	DueDate     *string `json:"due_date"`
	Status      string  `json:"status"`
}

type updateDTO struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	DueDate     *string `json:"due_date"`
	Status      *string `json:"status"`
}

// List serves GET /api/milestones?project_id=N; the project filter is
// mandatory since milestones only make sense inside one project.
func (ct *Controller) List(c *gin.Context) {
	projectID, err := strconv.ParseUint(c.Query("project_id"), 10, 64)
	if err != nil {
		httpx.Fail(c, apperr.Validation("project_id query parameter is required"))
		return
	}
	ct.listProject(c, uint(projectID))
}

// ListForProject serves GET /api/projects/:id/milestones.
func (ct *Controller) ListForProject(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	ct.listProject(c, projectID)
}

func (ct *Controller) listProject(c *gin.Context, projectID uint) {
	actor := auth.ActorFrom(c)

	var project models.Project
	if err := ct.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("project not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load project"))
		return
	}
	if err := ct.policy.CanViewProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	page, limit := httpx.PageParams(c)
	q := ct.db.Model(&models.Milestone{}).Where("project_id = ?", projectID)
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count milestones"))
		return
	}
	var milestones []models.Milestone
	if err := q.Order("due_date ASC").Offset((page - 1) * limit).Limit(limit).Find(&milestones).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list milestones"))
		return
	}

	httpx.OKPage(c, milestones, httpx.NewPagination(page, limit, total))
}

func (ct *Controller) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	milestone, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanViewProject(actor, milestone.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var taskCount, completed int64
	ct.db.Model(&models.Task{}).Where("milestone_id = ?", id).Count(&taskCount)
	ct.db.Model(&models.Task{}).Where("milestone_id = ? AND status = ?", id, "completed").Count(&completed)

	httpx.OK(c, gin.H{
		"milestone":            milestone,
		"task_count":           taskCount,
		"completed_task_count": completed,
	})
}

func (ct *Controller) Create(c *gin.Context) {
	actor := auth.ActorFrom(c)

	var body createDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	var project models.Project
	if err := ct.db.First(&project, body.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("project not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load project"))
		return
	}
	if err := ct.policy.CanManageProject(actor, body.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}
	if body.Status != "" && !models.ValidMilestoneStatuses[body.Status] {
		httpx.Fail(c, apperr.Validation("invalid milestone status %q", body.Status))
		return
	}

	milestone := models.Milestone{
		ProjectID:   body.ProjectID,
		Name:        body.Name,
		Description: body.Description,
		Status:      body.Status,
	}
	due, err := parseDate(body.DueDate)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	milestone.DueDate = due

	if err := ct.db.Create(&milestone).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "create milestone"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventProjectUpdate, ProjectID: milestone.ProjectID, Payload: milestone})
	httpx.Created(c, milestone)
}

func (ct *Controller) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	milestone, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanManageProject(actor, milestone.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body updateDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	if body.Name != nil {
		milestone.Name = *body.Name
	}
	if body.Description != nil {
		milestone.Description = *body.Description
	}
	if body.Status != nil {
		if !models.ValidMilestoneStatuses[*body.Status] {
			httpx.Fail(c, apperr.Validation("invalid milestone status %q", *body.Status))
			return
		}
		milestone.Status = *body.Status
	}
	if body.DueDate != nil {
		due, err := parseDate(body.DueDate)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		milestone.DueDate = due
	}

	if err := ct.db.Save(milestone).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update milestone"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventProjectUpdate, ProjectID: milestone.ProjectID, Payload: milestone})
	httpx.OK(c, milestone)
}

// Delete detaches the milestone's tasks rather than deleting them; comments on
// the milestone go with it.
func (ct *Controller) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	milestone, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanManageProject(actor, milestone.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	if err := ct.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Task{}).Where("milestone_id = ?", id).
			Update("milestone_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("milestone_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(milestone).Error
	}); err != nil {
		httpx.Fail(c, apperr.Internal(err, "delete milestone"))
		return
	}

	httpx.OK(c, gin.H{"deleted": id})
}

func (ct *Controller) load(id uint) (*models.Milestone, error) {
	var m models.Milestone
	if err := ct.db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("milestone not found")
		}
		return nil, apperr.Internal(err, "load milestone")
	}
	return &m, nil
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

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		httpx.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
