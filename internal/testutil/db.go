// Package testutil provides the in-memory database fixture shared by tests.
package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sovann/taskhub-core/internal/models"
)

// OpenDB returns a migrated in-memory sqlite handle. The pool is pinned to a
// single connection so every query sees the same memory database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	for _, name := range []string{models.RoleAdmin, models.RoleProjectManager, models.RoleTeamMember} {
		if err := db.Create(&models.Role{Name: name}).Error; err != nil {
			t.Fatalf("seed role %s: %v", name, err)
		}
	}
	return db
}

// CreateUser inserts a user with the given global roles.
func CreateUser(t *testing.T, db *gorm.DB, username string, roleNames ...string) *models.User {
	t.Helper()

	var roles []models.Role
	if len(roleNames) > 0 {
		if err := db.Where("name IN ?", roleNames).Find(&roles).Error; err != nil {
			t.Fatalf("load roles: %v", err)
		}
		if len(roles) != len(roleNames) {
			t.Fatalf("unknown roles in %v", roleNames)
		}
	}

	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		Active:       true,
		Roles:        roles,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// CreateProject inserts a project owned by creator, seeding the creator as
// project_manager the way the create endpoint does.
func CreateProject(t *testing.T, db *gorm.DB, name string, creator *models.User) *models.Project {
	t.Helper()

	p := &models.Project{
		Name:        name,
		Slug:        name,
		Status:      "active",
		Priority:    "medium",
		CreatedByID: creator.ID,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	m := &models.ProjectMember{
		ProjectID: p.ID,
		UserID:    creator.ID,
		Role:      models.ProjectRoleProjectManager,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed project manager: %v", err)
	}
	return p
}

// AddMember joins a user to a project with the given project role.
func AddMember(t *testing.T, db *gorm.DB, project *models.Project, user *models.User, role string) *models.ProjectMember {
	t.Helper()

	m := &models.ProjectMember{ProjectID: project.ID, UserID: user.ID, Role: role}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
	return m
}
