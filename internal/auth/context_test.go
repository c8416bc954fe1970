package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUserContext_Unauthenticated(t *testing.T) {
	_, err := GetUserContext(context.Background())
	assert.Error(t, err)
}

func TestSetGetUserContext_RoundTrips(t *testing.T) {
	want := &UserContext{UserID: "user-1", Roles: []string{"admin"}}
	ctx := SetUserContext(context.Background(), want)

	got, err := GetUserContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMustGetUserContext_PanicsWhenUnauthenticated(t *testing.T) {
	assert.Panics(t, func() {
		MustGetUserContext(context.Background())
	})
}

func TestUserContext_HasRoleAndIsAdmin(t *testing.T) {
	u := &UserContext{Roles: []string{"admin", "billing"}}
	assert.True(t, u.HasRole("billing"))
	assert.False(t, u.HasRole("superuser"))
	assert.True(t, u.IsAdmin())

	plain := &UserContext{Roles: []string{"billing"}}
	assert.False(t, plain.IsAdmin())
}
