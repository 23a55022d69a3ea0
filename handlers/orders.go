package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"branch-orders-api/config"
	"branch-orders-api/logger"
	"branch-orders-api/middleware"
	"branch-orders-api/models"
	"branch-orders-api/realtime"
	"branch-orders-api/statemachine"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// IdempotencyHeader carries the client's submission token.
const IdempotencyHeader = "Idempotency-Key"

type PlaceOrderItem struct {
	MenuItemID string `json:"menu_item_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
	Notes      string `json:"notes" binding:"max=500"`
}

type PlaceOrderRequest struct {
	TableNumber string           `json:"table_number" binding:"required,max=20"`
	Notes       string           `json:"notes" binding:"max=1000"`
	Items       []PlaceOrderItem `json:"items" binding:"required,min=1,dive"`
}

type UpdateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required,order_status"`
}

// orderError aborts a transaction with a client facing status.
type orderError struct {
	status  int
	message string
}

func (e *orderError) Error() string { return e.message }

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func loadOrder(db *gorm.DB, branchID, orderID string) (*models.Order, error) {
	var order models.Order
	err := db.Preload("Items.MenuItem").
		Where("id = ? AND branch_id = ?", orderID, branchID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func findByIdempotencyKey(db *gorm.DB, branchID, key string) (*models.Order, error) {
	var order models.Order
	err := db.Preload("Items.MenuItem").
		Where("branch_id = ? AND idempotency_key = ?", branchID, key).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// publishChange sends an order change to the branch's feed subscribers.
// The write is already committed, so failures are logged and not returned.
func publishChange(ctx context.Context, typ realtime.EventType, order *models.Order) {
	record, err := json.Marshal(order)
	log := logger.For("orders").WithFields(map[string]interface{}{
		"order_id":  order.ID,
		"branch_id": order.BranchID,
		"event":     typ,
	})
	if err != nil {
		log.WithError(err).Error("failed to encode change event")
		return
	}
	ev := realtime.ChangeEvent{
		Type:     typ,
		Table:    "orders",
		BranchID: order.BranchID,
		OrderID:  order.ID,
		Record:   record,
	}
	if err := config.Events.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("failed to publish change event")
	}
}

// PlaceOrder creates an order and all of its items in one transaction.
// Prices are snapshotted from the menu; the client never sends them.
func PlaceOrder(c *gin.Context) {
	branchID := middleware.GetBranchID(c)
	userID := middleware.GetUserID(c)

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	table := strings.TrimSpace(req.TableNumber)
	if table == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table_number cannot be blank"})
		return
	}

	var idempotencyKey *string
	if key := strings.TrimSpace(c.GetHeader(IdempotencyHeader)); key != "" {
		idempotencyKey = &key
		if existing, err := findByIdempotencyKey(config.DB, branchID, key); err == nil {
			c.JSON(http.StatusOK, gin.H{"message": "Order already placed", "order": existing})
			return
		}
	}

	order := models.Order{
		BranchID:       branchID,
		TableNumber:    table,
		Status:         models.StatusNew,
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: idempotencyKey,
	}

	err := config.DB.Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(req.Items))
		for _, it := range req.Items {
			ids = append(ids, it.MenuItemID)
		}
		var menuItems []models.MenuItem
		if err := tx.Where("id IN ?", ids).Find(&menuItems).Error; err != nil {
			return err
		}
		byID := make(map[string]models.MenuItem, len(menuItems))
		for _, m := range menuItems {
			byID[m.ID] = m
		}

		for _, it := range req.Items {
			menuItem, ok := byID[it.MenuItemID]
			if !ok {
				return &orderError{http.StatusBadRequest, "Menu item not found: " + it.MenuItemID}
			}
			if !menuItem.Available {
				return &orderError{http.StatusBadRequest, fmt.Sprintf("Menu item '%s' is not available", menuItem.Name)}
			}
			order.Items = append(order.Items, models.OrderItem{
				MenuItemID: menuItem.ID,
				Quantity:   it.Quantity,
				UnitPrice:  menuItem.Price,
				Notes:      strings.TrimSpace(it.Notes),
			})
		}
		order.TotalAmount = order.CalculateTotal()

		// Creates the order and, through the association, every item.
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		history := models.OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  models.StatusNew,
			ChangedBy: userID,
		}
		return tx.Create(&history).Error
	})

	var oerr *orderError
	switch {
	case errors.As(err, &oerr):
		c.JSON(oerr.status, gin.H{"error": oerr.message})
		return
	case err != nil && idempotencyKey != nil && isDuplicateKey(err):
		// A concurrent retry of the same submission won the race.
		if existing, ferr := findByIdempotencyKey(config.DB, branchID, *idempotencyKey); ferr == nil {
			c.JSON(http.StatusOK, gin.H{"message": "Order already placed", "order": existing})
			return
		}
		fallthrough
	case err != nil:
		logger.For("orders").WithError(err).WithField("branch_id", branchID).Error("failed to place order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to place order"})
		return
	}

	placed, err := loadOrder(config.DB, branchID, order.ID)
	if err != nil {
		placed = &order
	}
	publishChange(c.Request.Context(), realtime.EventInsert, placed)

	logger.For("orders").WithFields(map[string]interface{}{
		"order_id":     placed.ID,
		"branch_id":    branchID,
		"table_number": placed.TableNumber,
		"total_amount": placed.TotalAmount.StringFixed(2),
	}).Info("order placed")

	c.JSON(http.StatusCreated, gin.H{
		"message": "Order placed successfully",
		"order":   placed,
	})
}

// ListOrders returns the branch's orders newest first
func ListOrders(c *gin.Context) {
	branchID := middleware.GetBranchID(c)

	query := config.DB.Preload("Items.MenuItem").Where("branch_id = ?", branchID)
	if status := c.Query("status"); status != "" {
		if !models.OrderStatus(status).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status: " + status})
			return
		}
		query = query.Where("status = ?", status)
	}

	var orders []models.Order
	if err := query.Order("created_at desc").Order("id desc").Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load orders"})
		return
	}

	summary := map[models.OrderStatus]int{}
	for _, s := range models.Statuses {
		summary[s] = 0
	}
	for _, o := range orders {
		summary[o.Status]++
	}

	c.JSON(http.StatusOK, gin.H{
		"order_summary": summary,
		"count":         len(orders),
		"orders":        orders,
	})
}

// GetOrder returns one order with its items
func GetOrder(c *gin.Context) {
	order, err := loadOrder(config.DB, middleware.GetBranchID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// GetOrderHistory returns the status changes of an order, oldest first
func GetOrderHistory(c *gin.Context) {
	order, err := loadOrder(config.DB, middleware.GetBranchID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	var history []models.OrderStatusHistory
	if err := config.DB.Where("order_id = ?", order.ID).Order("created_at asc").Find(&history).Error; err != nil {
		logger.For("orders").WithError(err).WithField("order_id", order.ID).Error("failed to load order history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "history": history})
}

// UpdateOrderStatus moves an order one step along the kitchen board
func UpdateOrderStatus(c *gin.Context) {
	branchID := middleware.GetBranchID(c)
	userID := middleware.GetUserID(c)

	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := loadOrder(config.DB, branchID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	if err := statemachine.CanTransition(order.Status, req.Status); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         "Cannot update order status",
			"reason":        err.Error(),
			"current_state": order.Status,
			"valid_next":    statemachine.ValidTransitionsFrom(order.Status),
		})
		return
	}

	prevStatus := order.Status
	err = config.DB.Transaction(func(tx *gorm.DB) error {
		// Guard on the current status so two tablets cannot both advance it.
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, prevStatus).
			Update("status", req.Status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &orderError{http.StatusConflict, "Order status changed concurrently, refresh and retry"}
		}
		return tx.Create(&models.OrderStatusHistory{
			OrderID:    order.ID,
			FromStatus: prevStatus,
			ToStatus:   req.Status,
			ChangedBy:  userID,
		}).Error
	})

	var oerr *orderError
	if errors.As(err, &oerr) {
		c.JSON(oerr.status, gin.H{"error": oerr.message})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		return
	}

	updated, err := loadOrder(config.DB, branchID, order.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload order"})
		return
	}
	publishChange(c.Request.Context(), realtime.EventUpdate, updated)

	c.JSON(http.StatusOK, gin.H{
		"message":          "Order status updated: " + string(prevStatus) + " → " + string(req.Status),
		"order":            updated,
		"next_transitions": statemachine.ValidTransitionsFrom(req.Status),
	})
}

// DeleteOrder removes an order and its items
func DeleteOrder(c *gin.Context) {
	branchID := middleware.GetBranchID(c)

	order, err := loadOrder(config.DB, branchID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderStatusHistory{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", order.ID).Delete(&models.Order{}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete order"})
		return
	}

	order.Items = nil
	publishChange(c.Request.Context(), realtime.EventDelete, order)
	c.JSON(http.StatusOK, gin.H{"message": "Order deleted", "order_id": order.ID})
}
