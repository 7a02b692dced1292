package echoapi_test

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/roxnlabs/mentora/apps/api/echo"
	"github.com/roxnlabs/mentora/core/user"
)

const (
	testPwd    = "Tr1cky$Horse"
	testWallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
)

func Test_userAPI_register(t *testing.T) {
	app := setup(t)
	user.CreateTestUser(t, app.usrRepo, "Taken", "taken", "taken@test.io", "", nil, true)

	newUser := func(uname string, roles ...string) user.NewUser {
		return user.NewUser{
			Name:            "Ada Lovelace",
			Username:        uname,
			Email:           uname + "@test.io",
			Password:        testPwd,
			PasswordConfirm: testPwd,
			Roles:           roles,
		}
	}

	tests := []httpTest{
		{name: "empty body", body: []byte("{}"), wantCode: http.StatusBadRequest},
		{
			name: "admin role refused", body: marchallObj(t, newUser("ada", user.RoleAdmin)),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{
			name: "username taken", body: marchallObj(t, newUser("taken")),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "weak password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Name: "Bob", Username: "bob", Password: "12345678", PasswordConfirm: "12345678"}),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be entirely numeric"}),
		},
		{name: "mentee by default", body: marchallObj(t, newUser("ada")), wantCode: http.StatusCreated, extra: []string{user.RoleMentee}},
		{
			name: "mentor and mentee", body: marchallObj(t, newUser("grace", user.RoleMentor, user.RoleMentee)),
			wantCode: http.StatusCreated, extra: []string{user.RoleMentor, user.RoleMentee},
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/register"

		t.Run(tt.name, func(t *testing.T) {
			rec := app.serve(tt)
			if tt.wantCode != http.StatusCreated {
				checkCodeAndData(t, tt, rec)
				return
			}

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var resp echoapi.RegisterResponse
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Token)
			assert.NotEmpty(t, resp.User.ID)
			assert.True(t, resp.User.IsActive)
			assert.Equal(t, tt.extra, resp.User.Roles)

			// the token is usable straight away
			req, rec := newAuthRequest(http.MethodGet, "/api/users/me", resp.Token)
			app.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func Test_userAPI_login(t *testing.T) {
	app := setup(t)
	user.CreateTestUser(t, app.usrRepo, "Mia", "mia", "mia@test.io", testPwd, []string{user.RoleMentor}, true)
	user.CreateTestUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.io", testPwd, []string{user.RoleMentee}, false)

	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})
	tests := []httpTest{
		{
			name: "required fields", body: []byte("{}"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{name: "unknown user", body: marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: testPwd}), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Username: "mia", Password: "nope"}), wantCode: http.StatusBadRequest, wantData: authFailed},
		{
			name: "inactive user", body: marchallObj(t, echoapi.LoginRequest{Username: "ndog", Password: testPwd}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "by username", body: marchallObj(t, echoapi.LoginRequest{Username: "MIA", Password: testPwd}), wantCode: http.StatusOK},
		{name: "by email", body: marchallObj(t, echoapi.LoginRequest{Username: "mia@test.io", Password: testPwd}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/login"

		t.Run(tt.name, func(t *testing.T) {
			rec := app.serve(tt)
			if tt.wantCode != http.StatusOK {
				checkCodeAndData(t, tt, rec)
				return
			}
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var resp echoapi.LoginResponse
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Token)
		})
	}

	usr, err := app.usrRepo.GetUser(context.Background(), user.GetFilter{Username: "mia"})
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero(), "last login should be set")
}

func Test_userAPI_refreshToken(t *testing.T) {
	app := setup(t)
	naughty := user.CreateTestUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.io", "", []string{user.RoleMentee}, false)
	mentee := user.CreateTestUser(t, app.usrRepo, "Hero", "hero", "hero@test.io", "", []string{user.RoleMentee}, true)

	now := time.Now()
	unrefreshableClaims := echoapi.GetUserClaims(app.conf, mentee, now.Add(-2*app.conf.Auth.JWTRefreshExpirationDelta).Unix())
	unrefreshableToken, err := echoapi.GenerateToken(app.conf, unrefreshableClaims)
	require.NoError(t, err)

	expiredClaims := echoapi.GetUserClaims(app.conf, mentee)
	expiredClaims.StandardClaims = jwt.StandardClaims{Subject: mentee.ID, ExpiresAt: now.Add(-time.Minute).Unix()}
	expiredToken, err := echoapi.GenerateToken(app.conf, expiredClaims)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Expired token", token: expiredToken, wantCode: http.StatusUnauthorized},
		{name: "Inactive user not allowed", token: getToken(t, app.conf, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, app.conf, mentee), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			rec := app.serve(tt)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code)
				var respData echoapi.LoginResponse
				decode(t, rec, &respData)
				assert.NotEmpty(t, respData.Token)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userAPI_resetPassword(t *testing.T) {
	app := setup(t)
	mentee := user.CreateTestUser(t, app.usrRepo, "Hero", "hero", "hero@test.io", "", []string{user.RoleMentee}, true)
	user.CreateTestUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.io", "", []string{user.RoleMentee}, false)

	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})
	pathRegex := regexp.MustCompile("/password-reset/.+/.+")

	tests := []httpTest{
		{name: "required fields", body: []byte("{}"), wantCode: http.StatusBadRequest, wantData: marchallObj(t, echoapi.PasswordResetRequest{Email: "this field is required"})},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, echoapi.PasswordResetRequest{Email: "email must be a valid email address"}),
		},
		{name: "unknown email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.io"}), wantData: successData, extra: false},
		{name: "inactive user", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "ndog@test.io"}), wantData: successData, extra: false},
		{name: "known email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "HERO@test.io"}), wantData: successData, extra: true},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/password-reset"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			app.mailSvc.Reset()
			rec := app.serve(tt)
			checkCodeAndData(t, tt, rec)

			emailSent, ok := tt.extra.(bool)
			if !ok {
				return
			}
			sent := app.mailSvc.SentMessages()
			if !emailSent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			msg := sent[0]
			assert.Equal(t, mentee.Email, msg.To[0].Address)
			assert.Contains(t, msg.TextContent, mentee.Name)
			assert.Contains(t, msg.HTMLContent, mentee.Name)
			assert.Regexp(t, pathRegex, msg.TextContent)
		})
	}
}

func Test_userAPI_confirmPasswordReset(t *testing.T) {
	app := setup(t)
	mentee := user.CreateTestUser(t, app.usrRepo, "Hero", "hero", "hero@test.io", "lol", []string{user.RoleMentee}, true)
	validUID := user.EncodeUID(mentee)
	validToken := user.MakeTestResetToken(app.conf, mentee)

	reset := func(uid, token, pwd string) []byte {
		return marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: pwd, PasswordConfirm: pwd})
	}

	tests := []httpTest{
		{name: "required fields", body: []byte("{}"), wantCode: http.StatusBadRequest},
		{
			name: "invalid uid", body: reset("lol", validToken, testPwd),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "invalid reset link"}),
		},
		{name: "invalid token", body: reset(validUID, "lol-lol", testPwd), wantCode: http.StatusBadRequest},
		{
			name: "password policy", body: reset(validUID, validToken, "hero"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"password": "password must contain at least 8 characters"}),
		},
		{
			name: "password reset", body: reset(validUID, validToken, testPwd),
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
		// the token is bound to the old password hash
		{name: "token used", body: reset(validUID, validToken, testPwd+"2"), wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/password-reset-confirm"

		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}

	rec := app.serve(httpTest{
		method: http.MethodPost, path: "/api/auth/login",
		body: marchallObj(t, echoapi.LoginRequest{Username: "hero", Password: testPwd}),
	})
	assert.Equal(t, http.StatusOK, rec.Code, "login with the new password")
}

func Test_userAPI_me(t *testing.T) {
	app := setup(t)
	mentee := user.CreateTestUser(t, app.usrRepo, "Hero", "hero", "hero@test.io", "", []string{user.RoleMentee}, true)
	other := user.CreateTestUser(t, app.usrRepo, "Other", "other", "other@test.io", "", []string{user.RoleMentor}, true)
	require.NoError(t, func() error {
		other.WalletAddress = testWallet
		_, err := app.usrRepo.UpdateUser(context.Background(), other)
		return err
	}())
	token := getToken(t, app.conf, mentee)

	t.Run("retrieve", func(t *testing.T) {
		tt := httpTest{method: http.MethodGet, path: "/api/users/me", token: token, wantCode: http.StatusOK, wantData: marchallObj(t, mentee)}
		checkCodeAndData(t, tt, app.serve(tt))
	})

	t.Run("auth required", func(t *testing.T) {
		tt := httpTest{method: http.MethodGet, path: "/api/users/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}
		checkCodeAndData(t, tt, app.serve(tt))
	})

	t.Run("cannot change own username", func(t *testing.T) {
		tt := httpTest{
			method: http.MethodPut, path: "/api/users/me", token: token, wantCode: http.StatusForbidden,
			body: marchallObj(t, user.UpdateUser{Username: "zero"}), wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}
		checkCodeAndData(t, tt, app.serve(tt))
	})

	t.Run("update name", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodPut, path: "/api/users/me", token: token, body: []byte(`{"name": "  Super Hero "}`)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "Super Hero", usr.Name)
		assert.Equal(t, mentee.Username, usr.Username)
	})

	t.Run("link wallet", func(t *testing.T) {
		tests := []httpTest{
			{name: "invalid", body: []byte(`{"wallet_address": "0x123"}`), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"wallet_address": "invalid wallet address"})},
			{name: "taken", body: marchallObj(t, user.LinkWallet{WalletAddress: testWallet}), wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"wallet_address": user.ErrWalletExists.Error()})},
			{name: "xdc form", body: []byte(`{"wallet_address": "xdcfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"}`), wantCode: http.StatusOK},
		}
		for _, tt := range tests {
			tt.method = http.MethodPut
			tt.path = "/api/users/me/wallet"
			tt.token = token

			t.Run(tt.name, func(t *testing.T) {
				rec := app.serve(tt)
				if tt.wantCode != http.StatusOK {
					checkCodeAndData(t, tt, rec)
					return
				}
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				var usr user.User
				decode(t, rec, &usr)
				assert.Equal(t, "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", usr.WalletAddress)
			})
		}
	})
}

func Test_userAPI_query(t *testing.T) {
	app := setup(t)

	path := func(search, ordering string, createdFrom time.Time, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		if !createdFrom.IsZero() {
			v.Add("created_from", createdFrom.Format(time.RFC3339))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/api/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	now := time.Now().Truncate(time.Second)
	t1 := now.Add(1 * time.Hour)
	t2 := now.Add(2 * time.Hour)
	t3 := now.Add(3 * time.Hour)
	t4 := now.Add(4 * time.Hour)

	admin := user.CreateTestUser(t, app.usrRepo, "Admin", "admin", "admin@test.io", "", []string{user.RoleAdmin}, true, now)
	mentor := user.CreateTestUser(t, app.usrRepo, "Mia Mentor", "mia", "mia@test.io", "", []string{user.RoleMentor}, true, t1)
	mentee := user.CreateTestUser(t, app.usrRepo, "Tom", "tom", "tom@test.io", "", []string{user.RoleMentee}, true, t2)
	both := user.CreateTestUser(t, app.usrRepo, "Zed", "zed", "zed@test.io", "", []string{user.RoleMentor, user.RoleMentee}, true, t3)
	naughty := user.CreateTestUser(t, app.usrRepo, "N Dog", "ndog", "ndog@test.io", "", []string{user.RoleMentee}, false, t4)

	adminToken := getToken(t, app.conf, admin)
	empty := marchallList(t)

	tests := []httpTest{
		{name: "Auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/api/users", token: getToken(t, app.conf, mentee), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/api/users", token: adminToken, wantData: marchallList(t, admin, mentor, mentee, both, naughty)},
		// filtering
		{name: "search (unknown)", path: path("lol", "", time.Time{}, nil), token: adminToken, wantData: empty},
		{name: "search=MENTOR", path: path("MENTOR", "", time.Time{}, nil), token: adminToken, wantData: marchallList(t, mentor)},
		{name: "role (unknown)", path: path("", "", time.Time{}, nil, "lol"), token: adminToken, wantData: empty},
		{name: "role=mentor:", path: path("", "", time.Time{}, nil, user.RoleMentor), token: adminToken, wantData: marchallList(t, mentor, both)},
		{name: "is_active=false", path: path("", "", time.Time{}, bPtr(false)), token: adminToken, wantData: marchallList(t, naughty)},
		{name: "created_from", path: path("", "", t2, nil), token: adminToken, wantData: marchallList(t, mentee, both, naughty)},
		{name: "all combo", path: path("", "", t2, bPtr(true), user.RoleMentee), token: adminToken, wantData: marchallList(t, mentee, both)},
		// ordering
		{name: "order by -created_at", path: path("", "-created_at", time.Time{}, nil), token: adminToken, wantData: marchallList(t, naughty, both, mentee, mentor, admin)},
		{name: "order by name", path: path("", "name", time.Time{}, nil), token: adminToken, wantData: marchallList(t, admin, mentor, naughty, mentee, both)},
		{name: "unknown ordering ignored", path: path("", "password_hash", time.Time{}, nil), token: adminToken, wantData: marchallList(t, admin, mentor, mentee, both, naughty)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}
}

func Test_userAPI_detail(t *testing.T) {
	app := setup(t)
	owner := user.CreateTestUser(t, app.usrRepo, "Owner", "owner", "owner@test.io", "", []string{user.RoleAdminOwner}, true)
	admin := user.CreateTestUser(t, app.usrRepo, "Admin", "admin", "admin@test.io", "", []string{user.RoleAdmin}, true)
	mentor := user.CreateTestUser(t, app.usrRepo, "Mia", "mia", "mia@test.io", "", []string{user.RoleMentor}, true)
	mentee := user.CreateTestUser(t, app.usrRepo, "Tom", "tom", "tom@test.io", "", []string{user.RoleMentee}, true)

	adminToken := getToken(t, app.conf, admin)
	notFound := marchallObj(t, httpErr{Error: "not found"})
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	tests := []httpTest{
		{name: "own profile", method: http.MethodGet, path: "/api/users/" + mentee.ID, token: getToken(t, app.conf, mentee), wantCode: http.StatusOK, wantData: marchallObj(t, mentee)},
		{name: "someone else's", method: http.MethodGet, path: "/api/users/" + mentor.ID, token: getToken(t, app.conf, mentee), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "admin sees all", method: http.MethodGet, path: "/api/users/" + mentor.ID, token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, mentor)},
		{name: "unknown id", method: http.MethodGet, path: "/api/users/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "admin cannot grant owner", method: http.MethodPut, path: "/api/users/" + mentor.ID, token: adminToken,
			body:     marchallObj(t, user.UpdateUser{Roles: []string{user.RoleAdminOwner}}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{name: "cannot delete self", method: http.MethodDelete, path: "/api/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "cannot delete superior", method: http.MethodDelete, path: "/api/users/" + owner.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "only admins delete", method: http.MethodDelete, path: "/api/users/" + mentee.ID, token: getToken(t, app.conf, mentee), wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "delete", method: http.MethodDelete, path: "/api/users/" + mentee.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", method: http.MethodGet, path: "/api/users/" + mentee.ID, token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.serve(tt))
		})
	}

	t.Run("deactivate", func(t *testing.T) {
		rec := app.serve(httpTest{
			method: http.MethodPut, path: "/api/users/" + mentor.ID, token: adminToken, body: []byte(`{"is_active": false}`),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		// the deactivated user's token is refused from now on
		rec = app.serve(httpTest{method: http.MethodGet, path: "/api/users/me", token: getToken(t, app.conf, mentor)})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("delete multiple", func(t *testing.T) {
		u1 := user.CreateTestUser(t, app.usrRepo, "U1", "u1", "u1@test.io", "", nil, true)
		u2 := user.CreateTestUser(t, app.usrRepo, "U2", "u2", "u2@test.io", "", nil, true)

		rec := app.serve(httpTest{method: http.MethodDelete, path: "/api/users?id=" + u1.ID + "&id=" + admin.ID, token: adminToken})
		assert.Equal(t, http.StatusForbidden, rec.Code, "cannot delete self")

		rec = app.serve(httpTest{method: http.MethodDelete, path: "/api/users?id=" + u1.ID + "&id=" + u2.ID, token: adminToken})
		assert.Equal(t, http.StatusNoContent, rec.Code)
		for _, id := range []string{u1.ID, u2.ID} {
			_, err := app.usrRepo.GetUser(context.Background(), user.GetFilter{ID: id})
			assert.Equal(t, user.ErrNotFound, err)
		}
	})

	t.Run("roles", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodGet, path: "/api/users/roles", token: adminToken})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), user.RoleMentor))
	})
}
