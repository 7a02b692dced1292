package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roxnlabs/mentora/core"
)

// CreateTestUser stores a user straight through the repository, skipping validation.
func CreateTestUser(
	t testing.TB,
	repo Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if roles == nil {
		roles = []string{}
	}
	usr := User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateTestUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateTestUser() failed: %v", err)
	}
	return usr
}

// MakeTestResetToken returns the password reset token the service would email to usr.
func MakeTestResetToken(conf *core.Config, usr User) string {
	return newTokenGenerator(conf.Auth.SecretKey, conf.Auth.PasswordResetTimeoutDelta).makeToken(usr)
}
