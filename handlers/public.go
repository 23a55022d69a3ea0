package handlers

import (
	"net/http"
	"strconv"

	"branch-orders-api/config"
	"branch-orders-api/models"
	"branch-orders-api/statemachine"

	"github.com/gin-gonic/gin"
)

// ListCategories returns menu categories in display order (public)
func ListCategories(c *gin.Context) {
	var categories []models.MenuCategory
	if err := config.DB.Order("display_order asc").Order("name asc").Find(&categories).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load categories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":      len(categories),
		"categories": categories,
	})
}

// ListMenuItems returns menu items (public)
func ListMenuItems(c *gin.Context) {
	query := config.DB.Model(&models.MenuItem{})

	if available := c.Query("available"); available != "" {
		flag, err := strconv.ParseBool(available)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "available must be true or false"})
			return
		}
		query = query.Where("available = ?", flag)
	}
	if categoryID := c.Query("category_id"); categoryID != "" {
		query = query.Where("category_id = ?", categoryID)
	}

	var items []models.MenuItem
	if err := query.Order("name asc").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load menu items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

// GetStateMachineInfo returns the full state machine for informational purposes
func GetStateMachineInfo(c *gin.Context) {
	var terminal []models.OrderStatus
	for _, s := range models.Statuses {
		if statemachine.IsTerminal(s) {
			terminal = append(terminal, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"state_machine":   statemachine.GetAllTransitions(),
		"initial_state":   models.StatusNew,
		"terminal_states": terminal,
		"description":     "Branch kitchen order lifecycle",
	})
}

// Health reports liveness
func Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "healthy",
		"service": "Branch Orders API",
		"version": "1.0.0",
	}
	if sqlDB, err := config.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
