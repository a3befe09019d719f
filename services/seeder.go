package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/krshsl/mockmate/repository"
)

// SeedUser is an account created on first start when missing
type SeedUser struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo      *repository.GORMRepository
	templates *PromptTemplates
	auth      *AuthService
	users     []SeedUser
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository, templates *PromptTemplates, auth *AuthService, users ...SeedUser) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, templates: templates, auth: auth, users: users}
}

// SeedDatabase seeds the database with initial data (idempotent)
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	if err := s.templates.Seed(ctx); err != nil {
		return err
	}

	for _, user := range s.users {
		if err := s.seedUser(ctx, user); err != nil {
			slog.Error("Failed to seed user", "email", user.Email, "error", err)
		}
	}

	slog.Info("Database seeding completed successfully")
	return nil
}

// seedUser seeds a single user (idempotent)
func (s *DatabaseSeeder) seedUser(ctx context.Context, user SeedUser) error {
	existingUser, err := s.repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", user.Email, err)
	}
	if existingUser != nil {
		slog.Debug("User already exists, skipping", "email", user.Email)
		return nil
	}

	if _, err := s.auth.CreateUser(ctx, user.Email, user.Password, user.FullName, user.Role); err != nil {
		return err
	}
	slog.Info("Created user", "email", user.Email, "role", user.Role)
	return nil
}
