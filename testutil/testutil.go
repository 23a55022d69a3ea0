package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"branch-orders-api/config"
	"branch-orders-api/models"
	"branch-orders-api/realtime"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	CardiffEmail    = "cardiff@tasteofpeshawar.com"
	CardiffPassword = "cardiff-secret-1"
	WembleyEmail    = "wembley@tasteofpeshawar.com"
	WembleyPassword = "wembley-secret-1"
)

var dbCounter int64

// Fixtures holds the rows provisioned for a test.
type Fixtures struct {
	DB       *gorm.DB
	Broker   *realtime.MemoryBroker
	Cardiff  *models.Branch
	Wembley  *models.Branch
	Starters *models.MenuCategory
	Drinks   *models.MenuCategory
	Samosa   *models.MenuItem // 5.00
	Lassi    *models.MenuItem // 3.50
	SoldOut  *models.MenuItem // unavailable
}

// SetupDB opens a private in-memory database, installs it with a fresh
// in-process broker into the config globals, and restores them on cleanup.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared", atomic.AddInt64(&dbCounter, 1))
	db, err := config.OpenDB(dsn)
	require.NoError(t, err)

	prevDB, prevEvents, prevSecret, prevTTL, prevKey := config.DB, config.Events, config.JWTSecret, config.TokenTTL, config.APIKey
	config.DB = db
	config.Events = realtime.NewMemoryBroker()
	config.JWTSecret = []byte("test-secret")
	config.TokenTTL = time.Hour
	config.APIKey = ""

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		config.DB, config.Events, config.JWTSecret, config.TokenTTL, config.APIKey = prevDB, prevEvents, prevSecret, prevTTL, prevKey
	})
	return db
}

// Seed provisions two branches and a small menu on top of SetupDB.
func Seed(t *testing.T) *Fixtures {
	t.Helper()
	db := SetupDB(t)

	cardiff, err := config.SeedBranch(db, config.BranchSeed{Name: "Cardiff", Email: CardiffEmail, Password: CardiffPassword})
	require.NoError(t, err)
	wembley, err := config.SeedBranch(db, config.BranchSeed{Name: "Wembley", Email: WembleyEmail, Password: WembleyPassword})
	require.NoError(t, err)

	starters := &models.MenuCategory{Name: "Starters", DisplayOrder: 1}
	drinks := &models.MenuCategory{Name: "Drinks", DisplayOrder: 2}
	require.NoError(t, db.Create(starters).Error)
	require.NoError(t, db.Create(drinks).Error)

	samosa := &models.MenuItem{CategoryID: starters.ID, Name: "Samosa", Price: decimal.RequireFromString("5.00"), Available: true}
	lassi := &models.MenuItem{CategoryID: drinks.ID, Name: "Mango Lassi", Price: decimal.RequireFromString("3.50"), Available: true}
	soldOut := &models.MenuItem{CategoryID: starters.ID, Name: "Lamb Chops", Price: decimal.RequireFromString("13.50"), Available: false}
	require.NoError(t, db.Create(samosa).Error)
	require.NoError(t, db.Create(lassi).Error)
	require.NoError(t, db.Create(soldOut).Error)

	broker, _ := config.Events.(*realtime.MemoryBroker)
	return &Fixtures{
		DB:       db,
		Broker:   broker,
		Cardiff:  cardiff,
		Wembley:  wembley,
		Starters: starters,
		Drinks:   drinks,
		Samosa:   samosa,
		Lassi:    lassi,
		SoldOut:  soldOut,
	}
}

// Count returns the number of rows of model.
func Count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
