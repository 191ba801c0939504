package tasks

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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
	ProjectID      uint     `json:"project_id" binding:"required"`
	MilestoneID    *uint    `json:"milestone_id"`
	ParentTaskID   *uint    `json:"parent_task_id"`
	AssigneeID     *uint    `json:"assignee_id"`
	Title          string   `json:"title" binding:"required"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	EstimatedHours *float64 `json:"estimated_hours"`
	DueDate        *string  `json:"due_date"`
}

type updateDTO struct {
	MilestoneID        *uint    `json:"milestone_id"`
	Title              *string  `json:"title"`
	Description        *string  `json:"description"`
	Status             *string  `json:"status"`
	Priority           *string  `json:"priority"`
	ProgressPercentage *int     `json:"progress_percentage"`
	EstimatedHours     *float64 `json:"estimated_hours"`
	ActualHours        *float64 `json:"actual_hours"`
	DueDate            *string  `json:"due_date"`
}

// List filters by project, status, priority, assignee, and free-text search.
// Non-admins only see tasks in projects they belong to.
func (ct *Controller) List(c *gin.Context) {
	actor := auth.ActorFrom(c)
	page, limit := httpx.PageParams(c)

	q := ct.db.Model(&models.Task{})
	if !actor.IsAdmin() {
		q = q.Where("project_id IN (?)",
			ct.db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", actor.UserID))
	}
	if pid := c.Query("project_id"); pid != "" {
		q = q.Where("project_id = ?", pid)
	}
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}
	if p := c.Query("priority"); p != "" {
		q = q.Where("priority = ?", p)
	}
	if a := c.Query("assignee_id"); a != "" {
		q = q.Where("assignee_id = ?", a)
	}
	if search := c.Query("search"); search != "" {
		q = q.Where("title LIKE ? OR description LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count tasks"))
		return
	}
	var tasks []models.Task
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&tasks).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list tasks"))
		return
	}

	httpx.OKPage(c, tasks, httpx.NewPagination(page, limit, total))
}

func (ct *Controller) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	var task models.Task
	if err := ct.db.Preload("Subtasks").First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(c, apperr.NotFound("task not found"))
			return
		}
		httpx.Fail(c, apperr.Internal(err, "load task"))
		return
	}
	if err := ct.policy.CanViewProject(actor, task.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var commentCount, attachmentCount int64
	ct.db.Model(&models.Comment{}).Where("task_id = ?", id).Count(&commentCount)
	ct.db.Model(&models.Attachment{}).Where("task_id = ?", id).Count(&attachmentCount)

	httpx.OK(c, gin.H{
		"task":             task,
		"subtask_count":    len(task.Subtasks),
		"comment_count":    commentCount,
		"attachment_count": attachmentCount,
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
	if err := ct.policy.CanViewProject(actor, body.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	if body.Status != "" && !models.ValidTaskStatuses[body.Status] {
		httpx.Fail(c, apperr.Validation("invalid task status %q", body.Status))
		return
	}
	if body.Priority != "" && !models.ValidPriorities[body.Priority] {
		httpx.Fail(c, apperr.Validation("invalid priority %q", body.Priority))
		return
	}
	if body.AssigneeID != nil {
		if err := ct.requireMember(*body.AssigneeID, body.ProjectID); err != nil {
			httpx.Fail(c, err)
			return
		}
	}
	if body.MilestoneID != nil {
		var m models.Milestone
		if err := ct.db.First(&m, *body.MilestoneID).Error; err != nil || m.ProjectID != body.ProjectID {
			httpx.Fail(c, apperr.Validation("milestone does not belong to this project"))
			return
		}
	}
	if body.ParentTaskID != nil {
		var parent models.Task
		if err := ct.db.First(&parent, *body.ParentTaskID).Error; err != nil || parent.ProjectID != body.ProjectID {
			httpx.Fail(c, apperr.Validation("parent task does not belong to this project"))
			return
		}
		if parent.ParentTaskID != nil {
			httpx.Fail(c, apperr.Validation("subtasks cannot be nested further"))
			return
		}
	}

	task := models.Task{
		ProjectID:    body.ProjectID,
		MilestoneID:  body.MilestoneID,
		ParentTaskID: body.ParentTaskID,
		AssigneeID:   body.AssigneeID,
		CreatedByID:  actor.UserID,
		Title:        body.Title,
		Description:  body.Description,
		Status:       body.Status,
		Priority:     body.Priority,
	}
	if body.EstimatedHours != nil {
		task.EstimatedHours = *body.EstimatedHours
	}
	due, err := parseDate(body.DueDate)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	task.DueDate = due

	if err := ct.db.Create(&task).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "create task"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTaskUpdate, ProjectID: task.ProjectID, Payload: task})
	httpx.Created(c, task)
}

func (ct *Controller) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanMutateTask(actor, task); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body updateDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	if body.Title != nil {
		task.Title = *body.Title
	}
	if body.Description != nil {
		task.Description = *body.Description
	}
	if body.Status != nil {
		if !models.ValidTaskStatuses[*body.Status] {
			httpx.Fail(c, apperr.Validation("invalid task status %q", *body.Status))
			return
		}
		task.Status = *body.Status
	}
	if body.Priority != nil {
		if !models.ValidPriorities[*body.Priority] {
			httpx.Fail(c, apperr.Validation("invalid priority %q", *body.Priority))
			return
		}
		task.Priority = *body.Priority
	}
	if body.ProgressPercentage != nil {
		// out-of-range is rejected, never clamped
		if *body.ProgressPercentage < 0 || *body.ProgressPercentage > 100 {
			httpx.Fail(c, apperr.Validation("progress_percentage must be between 0 and 100"))
			return
		}
		task.ProgressPercentage = *body.ProgressPercentage
	}
	if body.EstimatedHours != nil {
		task.EstimatedHours = *body.EstimatedHours
	}
	if body.ActualHours != nil {
		task.ActualHours = *body.ActualHours
	}
	if body.MilestoneID != nil {
		var m models.Milestone
		if err := ct.db.First(&m, *body.MilestoneID).Error; err != nil || m.ProjectID != task.ProjectID {
			httpx.Fail(c, apperr.Validation("milestone does not belong to this project"))
			return
		}
		task.MilestoneID = body.MilestoneID
	}
	if body.DueDate != nil {
		due, err := parseDate(body.DueDate)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		task.DueDate = due
	}

	if err := ct.db.Save(task).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update task"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTaskUpdate, ProjectID: task.ProjectID, Payload: task})
	httpx.OK(c, task)
}

type statusDTO struct {
	Status string `json:"status" binding:"required"`
}

func (ct *Controller) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanMutateTask(actor, task); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body statusDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}
	if !models.ValidTaskStatuses[body.Status] {
		httpx.Fail(c, apperr.Validation("invalid task status %q", body.Status))
		return
	}

	task.Status = body.Status
	if body.Status == "completed" {
		task.ProgressPercentage = 100
	}
	if err := ct.db.Save(task).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update task status"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTaskUpdate, ProjectID: task.ProjectID, Payload: task})
	httpx.OK(c, task)
}

type assignDTO struct {
	AssigneeID *uint `json:"assignee_id"`
}

// Assign sets or clears the assignee. Manager-level: the current assignee
// cannot hand the task to someone else.
func (ct *Controller) Assign(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanAssignTask(actor, task.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body assignDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}
	if body.AssigneeID != nil {
		if err := ct.requireMember(*body.AssigneeID, task.ProjectID); err != nil {
			httpx.Fail(c, err)
			return
		}
	}

	task.AssigneeID = body.AssigneeID
	if err := ct.db.Save(task).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "assign task"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTaskUpdate, ProjectID: task.ProjectID, Payload: task})
	httpx.OK(c, task)
}

// Delete refuses while subtasks exist; a leaf delete cascades its comments,
// time logs, and attachment rows.
func (ct *Controller) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanDeleteTask(actor, task.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var subtaskCount int64
	if err := ct.db.Model(&models.Task{}).Where("parent_task_id = ?", id).Count(&subtaskCount).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count subtasks"))
		return
	}
	if subtaskCount > 0 {
		httpx.Fail(c, apperr.Validation("cannot delete a task that has subtasks"))
		return
	}

	if err := ct.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", id).Delete(&models.TimeLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(task).Error
	}); err != nil {
		httpx.Fail(c, apperr.Internal(err, "delete task"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventTaskUpdate, ProjectID: task.ProjectID, Payload: gin.H{"deleted": id}})
	httpx.OK(c, gin.H{"deleted": id})
}

type attachmentDTO struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (ct *Controller) ListAttachments(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanViewProject(actor, task.ProjectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	var attachments []models.Attachment
	if err := ct.db.Where("task_id = ?", id).Order("created_at DESC").Find(&attachments).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list attachments"))
		return
	}
	httpx.OK(c, attachments)
}

// CreateAttachment records upload metadata; the bytes themselves are stored
// out of band under the returned storage key.
func (ct *Controller) CreateAttachment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanMutateTask(actor, task); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body attachmentDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	attachment := models.Attachment{
		TaskID:       task.ID,
		FileName:     body.FileName,
		ContentType:  body.ContentType,
		SizeBytes:    body.SizeBytes,
		StorageKey:   uuid.NewString(),
		UploadedByID: actor.UserID,
	}
	if err := ct.db.Create(&attachment).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "create attachment"))
		return
	}

	httpx.Created(c, attachment)
}

func (ct *Controller) DeleteAttachment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	attachmentID, ok := parseID(c, "attachmentId")
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	task, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanMutateTask(actor, task); err != nil {
		httpx.Fail(c, err)
		return
	}

	res := ct.db.Where("id = ? AND task_id = ?", attachmentID, id).Delete(&models.Attachment{})
	if res.Error != nil {
		httpx.Fail(c, apperr.Internal(res.Error, "delete attachment"))
		return
	}
	if res.RowsAffected == 0 {
		httpx.Fail(c, apperr.NotFound("attachment not found"))
		return
	}
	httpx.OK(c, gin.H{"deleted": attachmentID})
}

func (ct *Controller) load(id uint) (*models.Task, error) {
	var t models.Task
	if err := ct.db.First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("task not found")
		}
		return nil, apperr.Internal(err, "load task")
	}
	return &t, nil
}

// requireMember rejects assignees who are not on the project.
func (ct *Controller) requireMember(userID, projectID uint) error {
	role, err := ct.policy.MembershipRole(userID, projectID)
	if err != nil {
		return err
	}
	if role == "" {
		return apperr.Validation("assignee is not a member of this project")
	}
	return nil
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
