package store

import (
	"context"
	"fmt"

	"docketra/internal/models"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenStore persists OAuth tokens per owner and provider.
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Load returns the stored token for owner and provider.
func (s *TokenStore) Load(ctx context.Context, owner, provider string) (*oauth2.Token, error) {
	var row models.ProviderToken
	err := s.db.WithContext(ctx).Where("owner = ? AND provider = ?", owner, provider).First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    row.TokenType,
		Expiry:       row.Expiry,
	}, nil
}

// Save upserts the token. A refreshed token without a refresh token keeps
// the one already stored.
func (s *TokenStore) Save(ctx context.Context, owner, provider string, tok *oauth2.Token) error {
	row := models.ProviderToken{
		Owner:        owner,
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry.UTC(),
	}

	columns := []string{"access_token", "token_type", "expiry", "updated_at"}
	if tok.RefreshToken != "" {
		columns = append(columns, "refresh_token")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save %s token: %w", provider, err)
	}
	return nil
}
