package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sovann/taskhub-core/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", 1)

	u := &models.User{
		ID:    42,
		Email: "dev@example.com",
		Roles: []models.Role{{Name: models.RoleAdmin}, {Name: models.RoleTeamMember}},
	}

	tok, err := tokens.Generate(u)
	require.NoError(t, err)

	claims, err := tokens.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, uint(42), claims.UserID)
	require.Equal(t, "dev@example.com", claims.Email)
	require.Equal(t, []string{models.RoleAdmin, models.RoleTeamMember}, claims.Roles)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewTokens("secret-a", 1).Generate(&models.User{ID: 1})
	require.NoError(t, err)

	_, err = NewTokens("secret-b", 1).Parse(tok)
	require.Error(t, err)
}
