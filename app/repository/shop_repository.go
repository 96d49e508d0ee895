package repository

import (
	"strings"

	"github.com/JonasWeber/AgeGuard/app/models"
	"gorm.io/gorm"
)

// shopRepository implements the ShopRepository interface
type shopRepository struct {
	db *gorm.DB
}

// NewShopRepository creates a new shop repository instance
func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

// Create creates a new shop in the database
func (r *shopRepository) Create(shop *models.Shop) error {
	return r.db.Create(shop).Error
}

// GetByID retrieves a shop by its ID
func (r *shopRepository) GetByID(id uint) (*models.Shop, error) {
	var shop models.Shop
	err := r.db.First(&shop, id).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// GetByUUID retrieves a shop by its public identifier
func (r *shopRepository) GetByUUID(uuid string) (*models.Shop, error) {
	var shop models.Shop
	err := r.db.Where("uuid = ?", strings.TrimSpace(uuid)).First(&shop).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// GetByAPITokenHash resolves an API token hash to its shop.
func (r *shopRepository) GetByAPITokenHash(hash string) (*models.Shop, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var shop models.Shop
	err := r.db.Where("api_token_hash = ?", trimmed).First(&shop).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// Update saves changes to an existing shop
func (r *shopRepository) Update(shop *models.Shop) error {
	return r.db.Save(shop).Error
}

// List retrieves shops with pagination
func (r *shopRepository) List(offset, limit int) ([]models.Shop, error) {
	var shops []models.Shop
	err := r.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&shops).Error
	return shops, err
}

// Count returns the total number of shops
func (r *shopRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Shop{}).Count(&count).Error
	return count, err
}

// companyRepository implements the CompanyRepository interface
type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository instance
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

func (r *companyRepository) Create(company *models.Company) error {
	return r.db.Create(company).Error
}

func (r *companyRepository) GetByID(id uint) (*models.Company, error) {
	var company models.Company
	err := r.db.First(&company, id).Error
	if err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) Update(company *models.Company) error {
	return r.db.Save(company).Error
}
