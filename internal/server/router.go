// Package server wires the controllers onto the gin router. Construction is
// separate from main so tests can mount the full API against a test database.
package server

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sovann/taskhub-core/internal/auth"
	"github.com/sovann/taskhub-core/internal/comments"
	"github.com/sovann/taskhub-core/internal/metrics"
	"github.com/sovann/taskhub-core/internal/milestones"
	"github.com/sovann/taskhub-core/internal/policy"
	"github.com/sovann/taskhub-core/internal/projects"
	"github.com/sovann/taskhub-core/internal/realtime"
	"github.com/sovann/taskhub-core/internal/tasks"
	"github.com/sovann/taskhub-core/internal/team"
	"github.com/sovann/taskhub-core/internal/timelogs"
)

func New(db *gorm.DB, tokens *auth.Tokens, bus realtime.Bus, hub *realtime.Hub) *gin.Engine {
	eval := policy.NewEvaluator(db)

	authCtrl := auth.NewController(db, tokens)
	projectCtrl := projects.NewController(db, eval, bus)
	milestoneCtrl := milestones.NewController(db, eval, bus)
	taskCtrl := tasks.NewController(db, eval, bus)
	commentCtrl := comments.NewController(db, eval, bus)
	teamCtrl := team.NewController(db, eval, bus)
	timeLogCtrl := timelogs.NewController(db, eval, bus)

	r := gin.Default()
	r.Use(metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	r.POST("/api/auth/register", authCtrl.Register)
	r.POST("/api/auth/login", authCtrl.Login)

	api := r.Group("/api", auth.RequireAuth(tokens))
	{
		api.GET("/auth/me", authCtrl.Me)

		api.GET("/projects", projectCtrl.List)
		api.POST("/projects", projectCtrl.Create)
		api.GET("/projects/:id", projectCtrl.Get)
		api.PUT("/projects/:id", projectCtrl.Update)
		api.DELETE("/projects/:id", projectCtrl.Delete)
		api.GET("/projects/:id/stats", projectCtrl.Stats)
		api.GET("/projects/:id/milestones", milestoneCtrl.ListForProject)

		api.GET("/milestones", milestoneCtrl.List)
		api.POST("/milestones", milestoneCtrl.Create)
		api.GET("/milestones/:id", milestoneCtrl.Get)
		api.PUT("/milestones/:id", milestoneCtrl.Update)
		api.DELETE("/milestones/:id", milestoneCtrl.Delete)

		api.GET("/tasks", taskCtrl.List)
		api.POST("/tasks", taskCtrl.Create)
		api.GET("/tasks/:id", taskCtrl.Get)
		api.PUT("/tasks/:id", taskCtrl.Update)
		api.DELETE("/tasks/:id", taskCtrl.Delete)
		api.PUT("/tasks/:id/status", taskCtrl.UpdateStatus)
		api.PUT("/tasks/:id/assign", taskCtrl.Assign)
		api.GET("/tasks/:id/attachments", taskCtrl.ListAttachments)
		api.POST("/tasks/:id/attachments", taskCtrl.CreateAttachment)
		api.DELETE("/tasks/:id/attachments/:attachmentId", taskCtrl.DeleteAttachment)

		api.GET("/comments", commentCtrl.List)
		api.POST("/comments", commentCtrl.Create)
		api.PUT("/comments/:id", commentCtrl.Update)
		api.DELETE("/comments/:id", commentCtrl.Delete)

		api.GET("/team", teamCtrl.ListUsers)
		api.GET("/team/projects/:id/members", teamCtrl.ListMembers)
		api.POST("/team/projects/:id/members", teamCtrl.AddMember)
		api.PUT("/team/projects/:id/members/:userId", teamCtrl.UpdateMemberRole)
		api.DELETE("/team/projects/:id/members/:userId", teamCtrl.RemoveMember)
		api.POST("/team/users", teamCtrl.CreateUser)
		api.PUT("/team/users/:id", teamCtrl.UpdateUser)
		api.DELETE("/team/users/:id", teamCtrl.DeleteUser)
		api.PUT("/team/users/:id/roles", teamCtrl.SetRoles)
		api.PUT("/team/users/:id/status", teamCtrl.SetStatus)

		api.GET("/time-logs", timeLogCtrl.List)
		api.POST("/time-logs", timeLogCtrl.Create)
		api.PUT("/time-logs/:id", timeLogCtrl.Update)
		api.DELETE("/time-logs/:id", timeLogCtrl.Delete)
	}

	if hub != nil {
		r.GET("/ws", auth.RequireAuth(tokens), hub.Handler)
	}

	return r
}
