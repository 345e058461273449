package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/capstone/apps/api/echo"
	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/submission"
	"github.com/trezcool/capstone/core/user"
	emailsvc "github.com/trezcool/capstone/services/email"
	"github.com/trezcool/capstone/services/realtime"
	"github.com/trezcool/capstone/storage/database/sqlxrepos"
	"github.com/trezcool/capstone/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	*echoapi.Server

	conf      *core.Config
	logger    *testutil.Logger
	hub       *realtime.Hub
	mailSvc   *emailsvc.ConsoleServiceMock
	subRepo   submission.Repository
	notifRepo notification.Repository
	accRepo   user.Repository
}

// setup wires a server on a fresh in-memory SQLite database.
func setup(t *testing.T) testApp {
	conf := testutil.NewConfig()
	conf.Notification.EmailMirror = true
	logger := testutil.NewLogger()

	// set up DB & repos
	db := testutil.OpenDB(t)
	subRepo := sqlxrepos.NewSubmissionRepository(db)
	notifRepo := sqlxrepos.NewNotificationRepository(db)
	accRepo := sqlxrepos.NewAccountRepository(db)

	// set up services
	core.ParseEmailTemplates(conf, logger)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	hub := realtime.NewHub(conf, logger)
	router := notification.NewRouter(notification.RouterOptions{
		Repo:      notifRepo,
		Publisher: hub,
		MailSvc:   mailSvc,
		MailKinds: []notification.Kind{notification.KindStatusUpdate, notification.KindFeedback},
		Logger:    logger,
	})

	validate := validator.New()
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	core.InitValidators(validate, translator)

	// set up server
	server := echoapi.NewServer(nil /* shutdown */, echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		SubmissionSvc:   submission.NewService(subRepo, router),
		NotificationSvc: notification.NewService(notifRepo),
		AccountSvc:      user.NewService(accRepo, router),
		Hub:             hub,
		DisableReqLogs:  true,
	})

	return testApp{
		Server:    server,
		conf:      conf,
		logger:    logger,
		hub:       hub,
		mailSvc:   mailSvc,
		subRepo:   subRepo,
		notifRepo: notifRepo,
		accRepo:   accRepo,
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

func getToken(t *testing.T, conf *core.Config, id core.Identity) string {
	token, err := echoapi.GenerateToken(conf, echoapi.GetIdentityClaims(conf, id))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("unmarshal(%s): %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	if _, ok := j2.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
