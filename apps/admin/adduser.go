package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/user"
)

// addUser creates a user.User, or reactivates the existing one with a new password.
func (cli *commandLine) addUser(ctx context.Context, name, uname, email, pwd string, isAdmin bool) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
		if name = core.CleanString(name); name == "" {
			name = lookup
		}
		var roles []string
		if isAdmin {
			roles = user.AdminRoles
		}
		return cli.usrSvc.Create(ctx, user.NewUser{
			Name:     name,
			Username: uname,
			Email:    email,
			Password: pwd,
			Roles:    roles,
		})
	}

	if isAdmin && !usr.IsAdmin() {
		usr.Roles = append(usr.Roles, user.AdminRoles...)
	}
	usr.IsActive = true
	if err := usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	usr.UpdatedAt = user.NowFunc().UTC()
	return cli.usrRepo.UpdateUser(ctx, usr)
}
