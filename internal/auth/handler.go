package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/sovann/taskhub-core/internal/httpx"
	"github.com/sovann/taskhub-core/internal/models"
)

type Controller struct {
	db     *gorm.DB
	tokens *Tokens
}

func NewController(db *gorm.DB, tokens *Tokens) *Controller {
	return &Controller{db: db, tokens: tokens}
}

type registerDTO struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username" binding:"required,min=3"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
}

type loginDTO struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func (ct *Controller) Register(c *gin.Context) {
	var body registerDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	hashed, err := HashPassword(body.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to hash password"})
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

	// every new account starts as a plain team member
	var memberRole models.Role
	if err := ct.db.Where("name = ?", models.RoleTeamMember).First(&memberRole).Error; err == nil {
		user.Roles = []models.Role{memberRole}
	}

	if err := ct.db.Create(&user).Error; err != nil {
		httpx.BadRequest(c, "username or email already in use")
		return
	}

	httpx.Created(c, userView(&user))
}

func (ct *Controller) Login(c *gin.Context) {
	var dto loginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		httpx.BadRequest(c, err.Error())
		return
	}

	var u models.User
	if err := ct.db.Preload("Roles").First(&u, "email = ?", dto.Email).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}

	if !u.Active {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "account is deactivated"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(dto.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}

	tok, err := ct.tokens.Generate(&u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to generate token"})
		return
	}

	httpx.OK(c, gin.H{"token": tok, "user": userView(&u)})
}

func (ct *Controller) Me(c *gin.Context) {
	actor := ActorFrom(c)
	if actor.UserID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthenticated"})
		return
	}

	var u models.User
	if err := ct.db.Preload("Roles").First(&u, actor.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
		return
	}

	httpx.OK(c, userView(&u))
}

func userView(u *models.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"username":   u.Username,
		"email":      u.Email,
		"avatar_url": u.AvatarURL,
		"active":     u.Active,
		"roles":      u.RoleNames(),
	}
}
