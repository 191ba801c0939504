package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sovann/taskhub-core/internal/auth"
	"github.com/sovann/taskhub-core/internal/models"
	"github.com/sovann/taskhub-core/internal/realtime"
	"github.com/sovann/taskhub-core/internal/server"
	"github.com/sovann/taskhub-core/internal/testutil"
)

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	tokens *auth.Tokens
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	tokens := auth.NewTokens("test-secret", 1)
	router := server.New(db, tokens, realtime.NopBus{}, nil)
	return &fixture{t: t, db: db, router: router, tokens: tokens}
}

func (f *fixture) tokenFor(u *models.User) string {
	f.t.Helper()
	var loaded models.User
	require.NoError(f.t, f.db.Preload("Roles").First(&loaded, u.ID).Error)
	tok, err := f.tokens.Generate(&loaded)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Data
}

// The canonical scenario: U creates P and becomes its project manager, V joins
// as a plain member, V's project update is rejected with 400, U's succeeds.
func TestProjectUpdatePermissions(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	v := testutil.CreateUser(t, f.db, "v")

	w := f.do("POST", "/api/projects", f.tokenFor(u), gin.H{"name": "Website Redesign"})
	require.Equal(t, http.StatusCreated, w.Code)
	projectID := uint(decodeData(t, w)["id"].(float64))

	// creator was seeded as project_manager
	var member models.ProjectMember
	require.NoError(t, f.db.Where("project_id = ? AND user_id = ?", projectID, u.ID).First(&member).Error)
	require.Equal(t, models.ProjectRoleProjectManager, member.Role)

	w = f.do("POST", fmt.Sprintf("/api/team/projects/%d/members", projectID), f.tokenFor(u),
		gin.H{"user_id": v.ID, "role": "member"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do("PUT", fmt.Sprintf("/api/projects/%d", projectID), f.tokenFor(v),
		gin.H{"name": "Hijacked"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("PUT", fmt.Sprintf("/api/projects/%d", projectID), f.tokenFor(u),
		gin.H{"name": "Website Redesign v2", "status": "active"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Website Redesign v2", decodeData(t, w)["name"])
}

func TestLastProjectManagerGuard(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	v := testutil.CreateUser(t, f.db, "v")
	project := testutil.CreateProject(t, f.db, "alpha", u)

	t.Run("removing the sole manager is rejected", func(t *testing.T) {
		w := f.do("DELETE", fmt.Sprintf("/api/team/projects/%d/members/%d", project.ID, u.ID), f.tokenFor(u), nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("demoting the sole manager is rejected", func(t *testing.T) {
		w := f.do("PUT", fmt.Sprintf("/api/team/projects/%d/members/%d", project.ID, u.ID), f.tokenFor(u),
			gin.H{"role": "member"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("removing one of two managers is accepted", func(t *testing.T) {
		testutil.AddMember(t, f.db, project, v, models.ProjectRoleProjectManager)
		w := f.do("DELETE", fmt.Sprintf("/api/team/projects/%d/members/%d", project.ID, v.ID), f.tokenFor(u), nil)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCommentEntityReferenceRules(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	taskA := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "A", Status: "todo"}
	taskB := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "B", Status: "todo"}
	require.NoError(t, f.db.Create(taskA).Error)
	require.NoError(t, f.db.Create(taskB).Error)
	token := f.tokenFor(u)

	t.Run("zero references rejected", func(t *testing.T) {
		w := f.do("POST", "/api/comments", token, gin.H{"body": "orphan"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("multiple references rejected", func(t *testing.T) {
		w := f.do("POST", "/api/comments", token,
			gin.H{"body": "both", "task_id": taskA.ID, "project_id": project.ID})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("single reference accepted", func(t *testing.T) {
		w := f.do("POST", "/api/comments", token, gin.H{"body": "hello", "task_id": taskA.ID})
		require.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("reply must target the parent's entity", func(t *testing.T) {
		w := f.do("POST", "/api/comments", token, gin.H{"body": "parent", "task_id": taskA.ID})
		require.Equal(t, http.StatusCreated, w.Code)
		parentID := uint(decodeData(t, w)["id"].(float64))

		w = f.do("POST", "/api/comments", token,
			gin.H{"body": "reply", "task_id": taskB.ID, "parent_comment_id": parentID})
		require.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do("POST", "/api/comments", token,
			gin.H{"body": "reply", "task_id": taskA.ID, "parent_comment_id": parentID})
		require.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestTaskProgressBounds(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	task := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "t", Status: "todo"}
	require.NoError(t, f.db.Create(task).Error)
	token := f.tokenFor(u)
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	for _, tc := range []struct {
		progress int
		want     int
	}{
		{0, http.StatusOK},
		{100, http.StatusOK},
		{-1, http.StatusBadRequest},
		{101, http.StatusBadRequest},
	} {
		w := f.do("PUT", path, token, gin.H{"progress_percentage": tc.progress})
		require.Equalf(t, tc.want, w.Code, "progress %d", tc.progress)
	}
}

func TestTaskStatusEnum(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	task := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "t", Status: "todo"}
	require.NoError(t, f.db.Create(task).Error)
	token := f.tokenFor(u)
	path := fmt.Sprintf("/api/tasks/%d/status", task.ID)

	for _, status := range []string{"todo", "in_progress", "review", "completed", "closed", "cancelled"} {
		w := f.do("PUT", path, token, gin.H{"status": status})
		require.Equalf(t, http.StatusOK, w.Code, "status %s", status)
	}

	w := f.do("PUT", path, token, gin.H{"status": "done"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskAssignmentRequiresMembership(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	outsider := testutil.CreateUser(t, f.db, "outsider")
	member := testutil.CreateUser(t, f.db, "member")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	testutil.AddMember(t, f.db, project, member, models.ProjectRoleDeveloper)
	task := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "t", Status: "todo"}
	require.NoError(t, f.db.Create(task).Error)
	token := f.tokenFor(u)
	path := fmt.Sprintf("/api/tasks/%d/assign", task.ID)

	w := f.do("PUT", path, token, gin.H{"assignee_id": outsider.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("PUT", path, token, gin.H{"assignee_id": member.ID})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("assignee alone cannot reassign", func(t *testing.T) {
		w := f.do("PUT", path, f.tokenFor(member), gin.H{"assignee_id": u.ID})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTaskDeleteSubtaskGuard(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	parent := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "parent", Status: "todo"}
	require.NoError(t, f.db.Create(parent).Error)
	child := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "child", Status: "todo", ParentTaskID: &parent.ID}
	require.NoError(t, f.db.Create(child).Error)

	comment := &models.Comment{TaskID: &child.ID, AuthorID: u.ID, Body: "note"}
	require.NoError(t, f.db.Create(comment).Error)
	entry := &models.TimeLog{TaskID: &child.ID, ProjectID: project.ID, UserID: u.ID, Hours: 2, LogDate: parent.CreatedAt}
	require.NoError(t, f.db.Create(entry).Error)

	token := f.tokenFor(u)

	t.Run("parent with subtasks cannot be deleted", func(t *testing.T) {
		w := f.do("DELETE", fmt.Sprintf("/api/tasks/%d", parent.ID), token, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("leaf delete cascades comments and time logs", func(t *testing.T) {
		w := f.do("DELETE", fmt.Sprintf("/api/tasks/%d", child.ID), token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var comments, logs int64
		f.db.Model(&models.Comment{}).Where("task_id = ?", child.ID).Count(&comments)
		f.db.Model(&models.TimeLog{}).Where("task_id = ?", child.ID).Count(&logs)
		require.Zero(t, comments)
		require.Zero(t, logs)
	})

	t.Run("parent deletable once children are gone", func(t *testing.T) {
		w := f.do("DELETE", fmt.Sprintf("/api/tasks/%d", parent.ID), token, nil)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAdminOnlyUserManagement(t *testing.T) {
	f := setup(t)

	admin := testutil.CreateUser(t, f.db, "root", models.RoleAdmin)
	pleb := testutil.CreateUser(t, f.db, "pleb")

	newUser := gin.H{"username": "fresh", "email": "fresh@example.com", "password": "longenough"}

	t.Run("non-admin gets 403", func(t *testing.T) {
		w := f.do("POST", "/api/team/users", f.tokenFor(pleb), newUser)
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin can create", func(t *testing.T) {
		w := f.do("POST", "/api/team/users", f.tokenFor(admin), newUser)
		require.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestUserDeleteCascades(t *testing.T) {
	f := setup(t)

	admin := testutil.CreateUser(t, f.db, "root", models.RoleAdmin)
	victim := testutil.CreateUser(t, f.db, "victim", models.RoleTeamMember)
	owner := testutil.CreateUser(t, f.db, "owner")
	project := testutil.CreateProject(t, f.db, "alpha", owner)
	testutil.AddMember(t, f.db, project, victim, models.ProjectRoleDeveloper)

	task := &models.Task{ProjectID: project.ID, CreatedByID: owner.ID, Title: "t", Status: "todo", AssigneeID: &victim.ID}
	require.NoError(t, f.db.Create(task).Error)
	comment := &models.Comment{ProjectID: &project.ID, AuthorID: victim.ID, Body: "bye"}
	require.NoError(t, f.db.Create(comment).Error)
	entry := &models.TimeLog{ProjectID: project.ID, UserID: victim.ID, Hours: 1, LogDate: task.CreatedAt}
	require.NoError(t, f.db.Create(entry).Error)

	w := f.do("DELETE", fmt.Sprintf("/api/team/users/%d", victim.ID), f.tokenFor(admin), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var memberships, comments, logs int64
	f.db.Model(&models.ProjectMember{}).Where("user_id = ?", victim.ID).Count(&memberships)
	f.db.Model(&models.Comment{}).Where("author_id = ?", victim.ID).Count(&comments)
	f.db.Model(&models.TimeLog{}).Where("user_id = ?", victim.ID).Count(&logs)
	require.Zero(t, memberships)
	require.Zero(t, comments)
	require.Zero(t, logs)

	var reloaded models.Task
	require.NoError(t, f.db.First(&reloaded, task.ID).Error)
	require.Nil(t, reloaded.AssigneeID)
}

func TestProjectListScopedToMembership(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	other := testutil.CreateUser(t, f.db, "other")
	admin := testutil.CreateUser(t, f.db, "root", models.RoleAdmin)
	testutil.CreateProject(t, f.db, "mine", u)
	testutil.CreateProject(t, f.db, "theirs", other)

	count := func(token string) int {
		w := f.do("GET", "/api/projects", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var envelope struct {
			Data []json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		return len(envelope.Data)
	}

	require.Equal(t, 1, count(f.tokenFor(u)))
	require.Equal(t, 2, count(f.tokenFor(admin)))
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	f := setup(t)
	w := f.do("GET", "/api/projects", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMilestoneManagementRequiresManager(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	dev := testutil.CreateUser(t, f.db, "dev")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	testutil.AddMember(t, f.db, project, dev, models.ProjectRoleDeveloper)

	body := gin.H{"project_id": project.ID, "name": "Beta launch", "due_date": "2026-10-01"}

	w := f.do("POST", "/api/milestones", f.tokenFor(dev), body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", "/api/milestones", f.tokenFor(u), body)
	require.Equal(t, http.StatusCreated, w.Code)
	milestoneID := uint(decodeData(t, w)["id"].(float64))

	t.Run("developer can still read", func(t *testing.T) {
		w := f.do("GET", fmt.Sprintf("/api/milestones/%d", milestoneID), f.tokenFor(dev), nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		w := f.do("PUT", fmt.Sprintf("/api/milestones/%d", milestoneID), f.tokenFor(u),
			gin.H{"status": "finished"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTimeLogFlow(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	dev := testutil.CreateUser(t, f.db, "dev")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	testutil.AddMember(t, f.db, project, dev, models.ProjectRoleDeveloper)
	task := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "t", Status: "todo"}
	require.NoError(t, f.db.Create(task).Error)

	w := f.do("POST", "/api/time-logs", f.tokenFor(dev),
		gin.H{"project_id": project.ID, "task_id": task.ID, "hours": 3.5, "log_date": "2026-08-30", "billable": true})
	require.Equal(t, http.StatusCreated, w.Code)
	logID := uint(decodeData(t, w)["id"].(float64))

	t.Run("task actual hours follow the log", func(t *testing.T) {
		var reloaded models.Task
		require.NoError(t, f.db.First(&reloaded, task.ID).Error)
		require.InDelta(t, 3.5, reloaded.ActualHours, 0.001)
	})

	t.Run("out-of-range hours rejected", func(t *testing.T) {
		w := f.do("POST", "/api/time-logs", f.tokenFor(dev),
			gin.H{"project_id": project.ID, "hours": 25, "log_date": "2026-08-30"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("owner can delete their log", func(t *testing.T) {
		w := f.do("DELETE", fmt.Sprintf("/api/time-logs/%d", logID), f.tokenFor(dev), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var reloaded models.Task
		require.NoError(t, f.db.First(&reloaded, task.ID).Error)
		require.InDelta(t, 0, reloaded.ActualHours, 0.001)
	})
}

func TestAttachmentMetadata(t *testing.T) {
	f := setup(t)

	u := testutil.CreateUser(t, f.db, "u")
	project := testutil.CreateProject(t, f.db, "alpha", u)
	task := &models.Task{ProjectID: project.ID, CreatedByID: u.ID, Title: "t", Status: "todo"}
	require.NoError(t, f.db.Create(task).Error)
	token := f.tokenFor(u)
	base := fmt.Sprintf("/api/tasks/%d/attachments", task.ID)

	w := f.do("POST", base, token, gin.H{"file_name": "report.pdf", "content_type": "application/pdf", "size_bytes": 1024})
	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	require.NotEmpty(t, data["storage_key"])
	attachmentID := uint(data["id"].(float64))

	w = f.do("GET", base, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("DELETE", fmt.Sprintf("%s/%d", base, attachmentID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("DELETE", fmt.Sprintf("%s/%d", base, attachmentID), token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
