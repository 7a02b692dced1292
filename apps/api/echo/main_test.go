package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/roxnlabs/mentora/apps/api/echo"
	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/feedback"
	"github.com/roxnlabs/mentora/core/session"
	"github.com/roxnlabs/mentora/core/user"
	emailsvc "github.com/roxnlabs/mentora/services/email"
	"github.com/roxnlabs/mentora/services/monitor"
	"github.com/roxnlabs/mentora/services/signaling"
	inmemdb "github.com/roxnlabs/mentora/storage/inmem"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	*echoapi.Server
	conf     *core.Config
	usrRepo  user.Repository
	sessRepo session.Repository
	mailSvc  *emailsvc.ConsoleServiceMock
	metrics  *monitor.Metrics
}

func setup(t *testing.T, opts ...func(conf *core.Config)) testApp {
	t.Helper()
	conf := core.NewTestConfig()
	for _, opt := range opts {
		opt(conf)
	}

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	sessRepo := inmemdb.NewSessionRepository(db)

	// set up services
	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewService(conf, usrRepo, mailSvc)
	metrics := monitor.NewMetrics(time.Minute)
	health := monitor.NewHealthChecker(conf.Build, monitor.PingCheck("database", db))
	sessSvc := session.NewService(sessRepo, usrSvc)
	hub := signaling.NewHub(conf, signaling.AuthorizerFunc(sessSvc.CanJoinRoom), metrics, core.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	// set up server
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:        conf,
		Logger:      core.NopLogger{},
		Validate:    validate,
		Translator:  translator,
		UserSvc:     usrSvc,
		SessionSvc:  sessSvc,
		FeedbackSvc: feedback.NewService(inmemdb.NewFeedbackRepository(db), core.NopLogger{}),
		Metrics:     metrics,
		Health:      health,
		Status:      monitor.NewStatusReporter(conf, metrics, hub, health.Started()),
		Hub:         hub,
	})
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown(context.Background())
	})

	return testApp{
		Server:   srv,
		conf:     conf,
		usrRepo:  usrRepo,
		sessRepo: sessRepo,
		mailSvc:  mailSvc,
		metrics:  metrics,
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (app testApp) serve(tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	app.ServeHTTP(rec, req)
	return rec
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	token, err := echoapi.GenerateToken(conf, echoapi.GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code")
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}
