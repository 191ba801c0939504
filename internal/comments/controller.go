package comments

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

type createDTO struct {
	TaskID          *uint  `json:"task_id"`
	ProjectID       *uint  `json:"project_id"`
	MilestoneID     *uint  `json:"milestone_id"`
	ParentCommentID *uint  `json:"parent_comment_id"`
	Body            string `json:"body" binding:"required"`
}

type updateDTO struct {
	Body string `json:"body" binding:"required"`
}

// List returns top-level comments for exactly one parent entity, replies
// preloaded. The exactly-one rule applies to the query parameters too.
func (ct *Controller) List(c *gin.Context) {
	actor := auth.ActorFrom(c)

	ref := models.Comment{}
	if v := c.Query("task_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			httpx.BadRequest(c, "invalid task_id")
			return
		}
		u := uint(id)
		ref.TaskID = &u
	}
	if v := c.Query("project_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			httpx.BadRequest(c, "invalid project_id")
			return
		}
		u := uint(id)
		ref.ProjectID = &u
	}
	if v := c.Query("milestone_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			httpx.BadRequest(c, "invalid milestone_id")
			return
		}
		u := uint(id)
		ref.MilestoneID = &u
	}
	if ref.EntityRefCount() != 1 {
		httpx.Fail(c, apperr.Validation("exactly one of task_id, project_id, milestone_id is required"))
		return
	}

	projectID, err := ct.policy.ProjectForComment(&ref)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanViewProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	page, limit := httpx.PageParams(c)
	q := ct.db.Model(&models.Comment{}).Where("parent_comment_id IS NULL")
	switch {
	case ref.TaskID != nil:
		q = q.Where("task_id = ?", *ref.TaskID)
	case ref.ProjectID != nil:
		q = q.Where("project_id = ?", *ref.ProjectID)
	case ref.MilestoneID != nil:
		q = q.Where("milestone_id = ?", *ref.MilestoneID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "count comments"))
		return
	}
	var comments []models.Comment
	if err := q.Preload("Replies").Preload("Author").
		Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&comments).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "list comments"))
		return
	}

	httpx.OKPage(c, comments, httpx.NewPagination(page, limit, total))
}

func (ct *Controller) Create(c *gin.Context) {
	actor := auth.ActorFrom(c)

	var body createDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	comment := models.Comment{
		TaskID:          body.TaskID,
		ProjectID:       body.ProjectID,
		MilestoneID:     body.MilestoneID,
		ParentCommentID: body.ParentCommentID,
		AuthorID:        actor.UserID,
		Body:            body.Body,
	}

	if comment.EntityRefCount() != 1 {
		httpx.Fail(c, apperr.Validation("exactly one of task_id, project_id, milestone_id must be set"))
		return
	}

	// also verifies the referenced parent entity exists
	projectID, err := ct.policy.ProjectForComment(&comment)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanViewProject(actor, projectID); err != nil {
		httpx.Fail(c, err)
		return
	}

	if comment.ParentCommentID != nil {
		var parent models.Comment
		if err := ct.db.First(&parent, *comment.ParentCommentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				httpx.Fail(c, apperr.NotFound("parent comment not found"))
				return
			}
			httpx.Fail(c, apperr.Internal(err, "load parent comment"))
			return
		}
		if parent.ParentCommentID != nil {
			httpx.Fail(c, apperr.Validation("replies cannot be nested"))
			return
		}
		if !sameRef(parent.TaskID, comment.TaskID) ||
			!sameRef(parent.ProjectID, comment.ProjectID) ||
			!sameRef(parent.MilestoneID, comment.MilestoneID) {
			httpx.Fail(c, apperr.Validation("reply must target the same entity as its parent comment"))
			return
		}
	}

	if err := ct.db.Create(&comment).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "create comment"))
		return
	}

	ct.bus.Publish(realtime.Event{Type: realtime.EventNewComment, ProjectID: projectID, Payload: comment})
	httpx.Created(c, comment)
}

func (ct *Controller) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	comment, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanModerateComment(actor, comment); err != nil {
		httpx.Fail(c, err)
		return
	}

	var body updateDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	comment.Body = body.Body
	if err := ct.db.Save(comment).Error; err != nil {
		httpx.Fail(c, apperr.Internal(err, "update comment"))
		return
	}

	httpx.OK(c, comment)
}

// Delete removes the comment and its replies.
func (ct *Controller) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor := auth.ActorFrom(c)

	comment, err := ct.load(id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := ct.policy.CanModerateComment(actor, comment); err != nil {
		httpx.Fail(c, err)
		return
	}

	if err := ct.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_comment_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(comment).Error
	}); err != nil {
		httpx.Fail(c, apperr.Internal(err, "delete comment"))
		return
	}

	httpx.OK(c, gin.H{"deleted": id})
}

func (ct *Controller) load(id uint) (*models.Comment, error) {
	var cm models.Comment
	if err := ct.db.First(&cm, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("comment not found")
		}
		return nil, apperr.Internal(err, "load comment")
	}
	return &cm, nil
}

func sameRef(a, b *uint) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		httpx.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
