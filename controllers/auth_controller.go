package controllers

import (
	"log"
	"net/http"
	"time"

	"stock_monitor_backend/middleware"
	"stock_monitor_backend/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

// AuthController handles admin authentication
type AuthController struct {
	db        *gorm.DB
	jwtSecret string
	limiter   *middleware.RateLimiter
}

// NewAuthController creates a new auth controller
func NewAuthController(db *gorm.DB, jwtSecret string, limiter *middleware.RateLimiter) *AuthController {
	return &AuthController{db: db, jwtSecret: jwtSecret, limiter: limiter}
}

// loginRequest is the login request body
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies admin credentials and issues a JWT
// POST /api/v1/auth/login
func (ac *AuthController) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	ip := c.ClientIP()

	var admin models.AdminUser
	if err := ac.db.Where("username = ? AND is_active = ?", req.Username, true).First(&admin).Error; err != nil {
		log.Printf("Admin login failed for user %s: user not found", req.Username)
		ac.limiter.RecordAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if !admin.CheckPassword(req.Password) {
		log.Printf("Admin login failed for user %s: wrong password", req.Username)
		ac.limiter.RecordAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := middleware.GenerateToken(ac.jwtSecret, admin.Username, admin.Role, tokenTTL)
	if err != nil {
		log.Printf("Failed to generate token for %s: %v", admin.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	ac.limiter.RecordAttempt(ip, true)

	now := time.Now()
	ac.db.Model(&admin).Update("last_login_at", now)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"username":   admin.Username,
	})
}
