package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"branch-orders-api/config"
	"branch-orders-api/logger"
	"branch-orders-api/middleware"
	"branch-orders-api/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BranchLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Session is the auth payload handed to clients
type Session struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

func issueSession(user *models.User, branchID string) (*Session, error) {
	token, expiresAt, err := middleware.GenerateToken(user, branchID)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt, User: user}, nil
}

// BranchLogin signs a tablet in as a branch. The branch is checked first
// so an unknown email or wrong password writes nothing.
func BranchLogin(c *gin.Context) {
	var req BranchLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	log := logger.For("auth").WithField("email", email)

	var branch models.Branch
	if err := config.DB.Where("email = ?", email).First(&branch).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithError(err).Error("branch lookup failed")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(branch.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	var user models.User
	err := config.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First sign-in for this branch: provision its backend user.
			user = models.User{Email: email, PasswordHash: branch.PasswordHash}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			log.Info("provisioned branch user")
		case err != nil:
			return err
		case user.PasswordHash != branch.PasswordHash:
			if err := tx.Model(&user).Update("password_hash", branch.PasswordHash).Error; err != nil {
				return err
			}
		}

		mapping := models.BranchSession{UserID: user.ID, BranchID: branch.ID}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"branch_id", "updated_at"}),
		}).Create(&mapping).Error
	})
	if err != nil {
		log.WithError(err).Error("branch sign-in failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign in"})
		return
	}

	session, err := issueSession(&user, branch.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	log.WithField("branch_id", branch.ID).Info("branch signed in")
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"session": session,
		"branch":  branch,
	})
}

// GetSession returns the session of the bearer token
func GetSession(c *gin.Context) {
	var user models.User
	if err := config.DB.Where("id = ?", middleware.GetUserID(c)).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	session := Session{AccessToken: middleware.GetToken(c), TokenType: "bearer", User: &user}
	if claims := middleware.GetClaims(c); claims != nil && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// RefreshSession re-issues a token for a still valid one
func RefreshSession(c *gin.Context) {
	var user models.User
	if err := config.DB.Where("id = ?", middleware.GetUserID(c)).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	session, err := issueSession(&user, middleware.GetBranchID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token refreshed", "session": session})
}

// Logout acknowledges a sign-out. Tokens are stateless; the client drops its copy.
func Logout(c *gin.Context) {
	logger.For("auth").WithField("user_id", middleware.GetUserID(c)).Info("signed out")
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

// GetBranch resolves the branch mapped to the caller's user
func GetBranch(c *gin.Context) {
	var mapping models.BranchSession
	err := config.DB.Preload("Branch").Where("user_id = ?", middleware.GetUserID(c)).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && mapping.Branch == nil) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No branch is mapped to this user"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve branch"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"branch": mapping.Branch})
}
