package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sovann/taskhub-core/internal/apperr"
	"github.com/sovann/taskhub-core/internal/models"
	"github.com/sovann/taskhub-core/internal/policy"
	"github.com/sovann/taskhub-core/internal/testutil"
)

func actorFor(u *models.User) policy.Actor {
	return policy.Actor{UserID: u.ID, GlobalRoles: u.RoleNames()}
}

func TestCanViewProject(t *testing.T) {
	db := testutil.OpenDB(t)
	eval := policy.NewEvaluator(db)

	admin := testutil.CreateUser(t, db, "admin", models.RoleAdmin)
	owner := testutil.CreateUser(t, db, "owner")
	outsider := testutil.CreateUser(t, db, "outsider")
	project := testutil.CreateProject(t, db, "alpha", owner)

	t.Run("admin bypasses membership", func(t *testing.T) {
		require.NoError(t, eval.CanViewProject(actorFor(admin), project.ID))
	})

	t.Run("member can view", func(t *testing.T) {
		require.NoError(t, eval.CanViewProject(actorFor(owner), project.ID))
	})

	t.Run("non-member is denied", func(t *testing.T) {
		err := eval.CanViewProject(actorFor(outsider), project.ID)
		require.Error(t, err)
		require.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))
	})
}

func TestCanManageProject(t *testing.T) {
	db := testutil.OpenDB(t)
	eval := policy.NewEvaluator(db)

	owner := testutil.CreateUser(t, db, "owner")
	dev := testutil.CreateUser(t, db, "dev")
	viewer := testutil.CreateUser(t, db, "viewer")
	outsider := testutil.CreateUser(t, db, "outsider")
	project := testutil.CreateProject(t, db, "alpha", owner)
	testutil.AddMember(t, db, project, dev, models.ProjectRoleDeveloper)
	testutil.AddMember(t, db, project, viewer, models.ProjectRoleViewer)

	t.Run("project manager allowed", func(t *testing.T) {
		require.NoError(t, eval.CanManageProject(actorFor(owner), project.ID))
	})

	t.Run("developer has membership but not the role", func(t *testing.T) {
		err := eval.CanManageProject(actorFor(dev), project.ID)
		require.Error(t, err)
		require.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})

	t.Run("viewer has membership but not the role", func(t *testing.T) {
		err := eval.CanManageProject(actorFor(viewer), project.ID)
		require.Error(t, err)
		require.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})

	t.Run("non-member denied outright", func(t *testing.T) {
		err := eval.CanManageProject(actorFor(outsider), project.ID)
		require.Error(t, err)
		require.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))
	})
}

func TestCanMutateTask(t *testing.T) {
	db := testutil.OpenDB(t)
	eval := policy.NewEvaluator(db)

	owner := testutil.CreateUser(t, db, "owner")
	assignee := testutil.CreateUser(t, db, "assignee")
	other := testutil.CreateUser(t, db, "other")
	project := testutil.CreateProject(t, db, "alpha", owner)
	testutil.AddMember(t, db, project, assignee, models.ProjectRoleDeveloper)
	testutil.AddMember(t, db, project, other, models.ProjectRoleDeveloper)

	task := &models.Task{
		ProjectID:   project.ID,
		CreatedByID: owner.ID,
		AssigneeID:  &assignee.ID,
		Title:       "build it",
		Status:      "todo",
	}
	require.NoError(t, db.Create(task).Error)

	t.Run("assignee can mutate", func(t *testing.T) {
		require.NoError(t, eval.CanMutateTask(actorFor(assignee), task))
	})

	t.Run("project manager can mutate", func(t *testing.T) {
		require.NoError(t, eval.CanMutateTask(actorFor(owner), task))
	})

	t.Run("other developer cannot", func(t *testing.T) {
		err := eval.CanMutateTask(actorFor(other), task)
		require.Error(t, err)
		require.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})

	t.Run("assignee cannot assign or delete", func(t *testing.T) {
		err := eval.CanAssignTask(actorFor(assignee), project.ID)
		require.Equal(t, apperr.KindPermission, apperr.KindOf(err))
		err = eval.CanDeleteTask(actorFor(assignee), project.ID)
		require.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})
}

func TestCanModerateComment(t *testing.T) {
	db := testutil.OpenDB(t)
	eval := policy.NewEvaluator(db)

	owner := testutil.CreateUser(t, db, "owner")
	author := testutil.CreateUser(t, db, "author")
	other := testutil.CreateUser(t, db, "other")
	project := testutil.CreateProject(t, db, "alpha", owner)
	testutil.AddMember(t, db, project, author, models.ProjectRoleMember)
	testutil.AddMember(t, db, project, other, models.ProjectRoleMember)

	task := &models.Task{ProjectID: project.ID, CreatedByID: owner.ID, Title: "t", Status: "todo"}
	require.NoError(t, db.Create(task).Error)

	comment := &models.Comment{TaskID: &task.ID, AuthorID: author.ID, Body: "hi"}
	require.NoError(t, db.Create(comment).Error)

	t.Run("author allowed", func(t *testing.T) {
		require.NoError(t, eval.CanModerateComment(actorFor(author), comment))
	})

	t.Run("manager allowed via task->project resolution", func(t *testing.T) {
		require.NoError(t, eval.CanModerateComment(actorFor(owner), comment))
	})

	t.Run("plain member denied", func(t *testing.T) {
		err := eval.CanModerateComment(actorFor(other), comment)
		require.Error(t, err)
		require.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})
}

func TestProjectForComment(t *testing.T) {
	db := testutil.OpenDB(t)
	eval := policy.NewEvaluator(db)

	owner := testutil.CreateUser(t, db, "owner")
	project := testutil.CreateProject(t, db, "alpha", owner)

	milestone := &models.Milestone{ProjectID: project.ID, Name: "m1", Status: "pending"}
	require.NoError(t, db.Create(milestone).Error)

	t.Run("milestone resolves to its project", func(t *testing.T) {
		pid, err := eval.ProjectForComment(&models.Comment{MilestoneID: &milestone.ID})
		require.NoError(t, err)
		require.Equal(t, project.ID, pid)
	})

	t.Run("missing task is NotFound", func(t *testing.T) {
		missing := uint(9999)
		_, err := eval.ProjectForComment(&models.Comment{TaskID: &missing})
		require.Error(t, err)
		require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("no reference is a validation error", func(t *testing.T) {
		_, err := eval.ProjectForComment(&models.Comment{})
		require.Error(t, err)
		require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}
