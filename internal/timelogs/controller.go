package timelogs

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
	TaskID      *uint   `json:"task_id"`
	ProjectID   uint    `json:"project_id" binding:"required"`
	Hours       float64 `json:"hours" binding:"required"`
	LogDate     string  `json:"log_date" binding:"required"`
	Billable    bool    `json:"billable"`
	Description string  `json:"description"`
}

type updateDTO struct {
	Hours       *float64 `json:"hours"`
	LogDate     *string  `json:"log_date"`
	Billable    *bool    `json:"billable"`
	Description *string  `json:"description"`
}

// List: project members see their own logs; project managers and admins see
// everyone's. Filters: project_id, task_id, user_id, from, to.
func (ct *Controller) List(c *gin.Context) {
	actor := auth.ActorFrom(c)
	page, limit := httpx.PageParams(c)

	q := ct.db.Model(&models.TimeLog{})

	if pid := c.Query("project_id"); pid != "" {
		projectID, err := strconv.ParseUint(pid, 10, 64)
		if err != nil {
			httpx.BadRequest(c, "invalid project_id")
			return
		}
		if err := ct.policy.CanViewProject(actor, uint(projectID)); err != nil {
			httpx.Fail(c, err)
			return
		}
		q = q.Where("project_id = ?", projectID)
		// non-managers only see their own entries
		if err := ct.policy.CanManageProject(actor, uint(projectID)); err != nil {
			q = q.Where("user_id = ?", actor.UserID)
		}
	} else if !actor.IsAdmin() {
		q = q.Where("user_id = ?", actor.UserID)
	}

	if tid := c.Query("task_id"); tid != "" {
		q = q.Where("task_id = ?", tid)
	}
	if uid := c.Query("user_id"); uid != "" {
		q = q.Where("user_id = ?", uid)
	}
	if from := c.Query("from"); from != "" {
		d, err := parseDate(&from)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		q = q.Where("log_date >= ?", d)
	}
	if to := c.Query("to"); to != "" {
		d, err := parseDate(&to)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		q = q.Where("log_date <= ?", d)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count time logs"))
		return
	}
	var logs []models.TimeLog
	if err := q.Order("log_date DESC").Offset((page - 1) * limit).Limit(limit).Find(&logs).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list time logs"))
		return
	}

	httpx.OKPage(c, logs, httpx.NewPagination(page, limit, total))
}

func (ct *Controller) Create(c *gin.Context) {
	actor := auth.ActorFrom(c)

	var body createDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}
	if body.Hours <= 0 || body.Hours > 24 {
		httpx.Fail(c, apperr.Validation("hours must be between 0 and 24"))
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
	if err := ct.policy.CanViewProject(actor, body.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	if body.TaskID != nil {
		var task models.Task
		if err := ct.db.First(&task, *body.TaskID).Error; err != nil || task.ProjectID != body.ProjectID {
			httpx.Fail(c, apperr.Validation("task does not belong to this project"))
			return
		}
	}

	logDate, err := parseDate(&body.LogDate)
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	entry := models.TimeLog{
		TaskID:      body.TaskID,
		ProjectID:   body.ProjectID,
		UserID:      actor.UserID,
		Hours:       body.Hours,
		LogDate:     *logDate,
		Billable:    body.Billable,
		Description: body.Description,
	}
	if err := ct.db.Create(&entry).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "create time log"))
		return
	}

	// keep the task's actual hours in step
	if body.TaskID != nil {
		ct.db.Model(&models.Task{}).Where("id = ?", *body.TaskID).
			Update("actual_hours", gorm.Expr("actual_hours + ?", body.Hours))
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTimeLogUpdate, ProjectID: entry.ProjectID, Payload: entry})
	httpx.Created(c, entry)
}

func (ct *Controller) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	entry, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.canModify(actor, entry); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body updateDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	oldHours := entry.Hours
	if body.Hours != nil {
		if *body.Hours <= 0 || *body.Hours > 24 {
			httpx.Fail(c, apperr.Validation("hours must be between 0 and 24"))
			return
		}
		entry.Hours = *body.Hours
	}
	if body.LogDate != nil {
		d, err := parseDate(body.LogDate)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		entry.LogDate = *d
	}
	if body.Billable != nil {
		entry.Billable = *body.Billable
	}
	if body.Description != nil {
		entry.Description = *body.Description
	}

	if err := ct.db.Save(entry).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update time log"))
		return
	}

	if entry.TaskID != nil && entry.Hours != oldHours {
		ct.db.Model(&models.Task{}).Where("id = ?", *entry.TaskID).
			Update("actual_hours", gorm.Expr("actual_hours + ?", entry.Hours-oldHours))
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTimeLogUpdate, ProjectID: entry.ProjectID, Payload: entry})
	httpx.OK(c, entry)
}

func (ct *Controller) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	entry, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.canModify(actor, entry); err != nil {
		httpx.Fail(c, err)
		return
	}

	if err := ct.db.Delete(entry).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "delete time log"))
		return
	}

	if entry.TaskID != nil {
		ct.db.Model(&models.Task{}).Where("id = ?", *entry.TaskID).
			Update("actual_hours", gorm.Expr("actual_hours - ?", entry.Hours))
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTimeLogUpdate, ProjectID: entry.ProjectID, Payload: gin.H{"deleted": id}})
	httpx.OK(c, gin.H{"deleted": id})
}

// canModify: the log's owner, a project manager of its project, or a global
// admin.
func (ct *Controller) canModify(actor policy.Actor, entry *models.TimeLog) error {
	if entry.UserID == actor.UserID {
		return nil
	}
	return ct.policy.CanManageProject(actor, entry.ProjectID)
}

func (ct *Controller) load(id uint) (*models.TimeLog, error) {
	var entry models.TimeLog
	if err := ct.db.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("time log not found")
		}
		return nil, apperr.Internal(err, "load time log")
	}
	return &entry, nil
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
