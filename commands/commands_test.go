package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"branch-orders-api/client"
	"branch-orders-api/config"
	"branch-orders-api/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchSeeds(t *testing.T) {
	file := filepath.Join(t.TempDir(), "branches.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
- name: Wembley
  email: wembley@tasteofpeshawar.com
  password: wembley-pass
`), 0644))

	seeds, err := branchSeeds([]string{"Cardiff:cardiff@tasteofpeshawar.com:pa:ss:word"}, file)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "Cardiff", seeds[0].Name)
	assert.Equal(t, "pa:ss:word", seeds[0].Password)
	assert.Equal(t, "wembley@tasteofpeshawar.com", seeds[1].Email)

	_, err = branchSeeds([]string{"missing-parts"}, "")
	assert.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DB_PATH", filepath.Join(dir, "seed.db"))
	prevDB := config.DB
	t.Cleanup(func() {
		if config.DB != nil {
			if sqlDB, err := config.DB.DB(); err == nil {
				sqlDB.Close()
			}
		}
		config.DB = prevDB
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"seed", "--branch", "Cardiff:cardiff@tasteofpeshawar.com:cardiff-pass"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "branch Cardiff <cardiff@tasteofpeshawar.com>")
	assert.Contains(t, out.String(), "menu seeded with")

	var branches int64
	require.NoError(t, config.DB.Model(&models.Branch{}).Count(&branches).Error)
	assert.EqualValues(t, 1, branches)
}

func TestRenderBoard(t *testing.T) {
	now := time.Now()
	orders := []models.Order{
		{ID: "o2", TableNumber: "5", Status: models.StatusPreparing, TotalAmount: decimal.RequireFromString("9.95"), CreatedAt: now,
			Items: []models.OrderItem{{Quantity: 1, MenuItem: &models.MenuItem{Name: "Chapli Kebab"}, Notes: "extra chutney"}}},
		{ID: "o1", TableNumber: "12", Status: models.StatusNew, TotalAmount: decimal.RequireFromString("13.50"), CreatedAt: now, Notes: "birthday"},
	}
	board := client.Board{
		models.StatusNew:       orders[1:],
		models.StatusPreparing: orders[:1],
	}

	var buf bytes.Buffer
	renderBoard(&buf, "Cardiff", client.FeedSnapshot{State: client.StateSuccess, Orders: orders, Connected: true}, board)
	text := buf.String()

	assert.Contains(t, text, "Cardiff")
	assert.Contains(t, text, "live")
	assert.Contains(t, text, "New (1)")
	assert.Contains(t, text, "Preparing (1)")
	assert.Contains(t, text, "Ready (0)")
	assert.Contains(t, text, "£13.50")
	assert.Contains(t, text, "1 × Chapli Kebab (extra chutney)")
	assert.Contains(t, text, "note: birthday")
	assert.Less(t, strings.Index(text, "New ("), strings.Index(text, "Preparing ("))

	buf.Reset()
	renderBoard(&buf, "Cardiff", client.FeedSnapshot{State: client.StateEmpty}, client.Board{})
	assert.Contains(t, buf.String(), "no orders yet")
	assert.Contains(t, buf.String(), "offline")
}
