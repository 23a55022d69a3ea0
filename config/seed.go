package config

import (
	"errors"
	"fmt"
	"strings"

	"branch-orders-api/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// BranchSeed describes a branch to provision.
type BranchSeed struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// SeedBranch creates the branch or, if the email already exists, replaces
// its password hash. Each branch carries its own credential.
func SeedBranch(db *gorm.DB, s BranchSeed) (*models.Branch, error) {
	email := strings.ToLower(strings.TrimSpace(s.Email))
	if email == "" || s.Name == "" {
		return nil, fmt.Errorf("branch name and email are required")
	}
	if len(s.Password) < 8 {
		return nil, fmt.Errorf("password for %s must be at least 8 characters", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var branch models.Branch
	err = db.Where("email = ?", email).First(&branch).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		branch = models.Branch{Name: s.Name, Email: email, PasswordHash: string(hash)}
		if err := db.Create(&branch).Error; err != nil {
			return nil, fmt.Errorf("failed to create branch %s: %w", email, err)
		}
	case err != nil:
		return nil, err
	default:
		branch.Name = s.Name
		branch.PasswordHash = string(hash)
		if err := db.Save(&branch).Error; err != nil {
			return nil, fmt.Errorf("failed to update branch %s: %w", email, err)
		}
	}
	return &branch, nil
}

type menuSeed struct {
	category string
	items    []menuItemSeed
}

type menuItemSeed struct {
	name        string
	description string
	price       string
}

var sampleMenu = []menuSeed{
	{"Starters", []menuItemSeed{
		{"Vegetable Samosa", "Crisp pastry with spiced potato and peas", "4.50"},
		{"Chicken Pakora", "Chicken strips in gram flour batter", "5.95"},
		{"Shami Kebab", "Minced lamb and lentil patties", "5.50"},
	}},
	{"Grills", []menuItemSeed{
		{"Chapli Kebab", "Peshawari minced beef kebab with pomegranate seeds", "9.95"},
		{"Lamb Chops", "Marinated lamb chops from the charcoal grill", "13.50"},
		{"Chicken Tikka", "Boneless chicken grilled in the tandoor", "10.50"},
	}},
	{"Karahi", []menuItemSeed{
		{"Chicken Karahi", "Cooked in a wok with tomato, ginger and green chilli", "11.95"},
		{"Lamb Karahi", "Slow cooked lamb on the bone", "14.50"},
	}},
	{"Breads & Rice", []menuItemSeed{
		{"Plain Naan", "", "2.00"},
		{"Garlic Naan", "", "2.50"},
		{"Kabuli Pulao", "Rice with lamb, carrots and raisins", "8.95"},
	}},
	{"Drinks", []menuItemSeed{
		{"Mango Lassi", "", "3.50"},
		{"Kashmiri Chai", "Pink tea with cardamom", "2.95"},
	}},
}

// SeedMenu provisions the sample menu. It does nothing when categories
// already exist; the menu is read-only through the API.
func SeedMenu(db *gorm.DB) (int, error) {
	var count int64
	if err := db.Model(&models.MenuCategory{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	created := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for i, section := range sampleMenu {
			category := models.MenuCategory{Name: section.category, DisplayOrder: i + 1}
			if err := tx.Create(&category).Error; err != nil {
				return err
			}
			for _, it := range section.items {
				item := models.MenuItem{
					CategoryID:  category.ID,
					Name:        it.name,
					Description: it.description,
					Price:       decimal.RequireFromString(it.price),
					Available:   true,
				}
				if err := tx.Create(&item).Error; err != nil {
					return err
				}
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed menu: %w", err)
	}
	return created, nil
}
