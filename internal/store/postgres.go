package store

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"refgate-bot/internal/config"
	"refgate-bot/internal/models"
)

// Postgres backs the store with PostgreSQL via gorm.
type Postgres struct {
	db *gorm.DB
}

func ConnectPostgres(cfg *config.Config) (*Postgres, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Connected to PostgreSQL")

	// Auto Migrate
	err = db.AutoMigrate(&models.User{}, &models.Channel{}, &models.Referral{}, &models.PendingReferral{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) LoadUsers() ([]models.User, error) {
	var users []models.User
	if err := p.db.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

func (p *Postgres) SaveUser(u *models.User) error {
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(u.Clone()).Error
}

func (p *Postgres) LoadChannels() ([]models.Channel, error) {
	var channels []models.Channel
	if err := p.db.Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	return channels, nil
}

func (p *Postgres) SaveChannel(ch models.Channel) error {
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoNothing: true,
	}).Create(&ch).Error
}

func (p *Postgres) LoadReferrals() ([]models.Referral, error) {
	var referrals []models.Referral
	if err := p.db.Find(&referrals).Error; err != nil {
		return nil, fmt.Errorf("failed to load referrals: %w", err)
	}
	return referrals, nil
}

func (p *Postgres) SaveReferral(r models.Referral) error {
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referred_id"}},
		DoNothing: true,
	}).Create(&r).Error
}

func (p *Postgres) LoadPending() ([]models.PendingReferral, error) {
	var pending []models.PendingReferral
	if err := p.db.Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending referrals: %w", err)
	}
	return pending, nil
}

func (p *Postgres) SavePending(pr models.PendingReferral) error {
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referred_id"}},
		DoNothing: true,
	}).Create(&pr).Error
}

func (p *Postgres) DeletePending(referredID int64) error {
	return p.db.Delete(&models.PendingReferral{}, "referred_id = ?", referredID).Error
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
