package echoportal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/core/user"
	"github.com/trezcool/masomo/portal/services/apiclient"
	inmemdb "github.com/trezcool/masomo/portal/storage/database/inmem"
	"github.com/trezcool/masomo/portal/tests"
)

type httpTest struct {
	name         string
	method       string
	path         string
	form         url.Values
	wantCode     int
	wantLocation string
	wantBody     []string
}

type fixture struct {
	api    *testutil.API
	store  *session.Store
	toasts *toast.Center
	client *apiclient.Client
	server *Server
}

func setup(t *testing.T) fixture {
	api := testutil.NewAPI(t)
	store, _ := testutil.NewStore(t)
	toasts := testutil.NewToasts()
	client := apiclient.New(api.APIConfig(), store, toasts, nil)

	conf := &core.Config{AppName: "Masomo", TestMode: true}
	conf.Server.DisableReqLogs = true
	server := NewServer(ServerDeps{
		Conf:   conf,
		Store:  store,
		Toasts: toasts,
		Client: client,
	})
	return fixture{api: api, store: store, toasts: toasts, client: client, server: server}
}

func (f fixture) loginAs(t *testing.T, email string, role user.Role) string {
	f.api.AddUser(email, "Passw0rd!", role)
	sess, err := f.client.Login(context.Background(), user.Credentials{Email: email, Password: "Passw0rd!"})
	require.NoError(t, err)
	return sess.Token
}

// do sends the request the way the portal's own pages would: unsafe methods carry the CSRF token.
func (f fixture) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	return f.send(method, path, form, true)
}

func (f fixture) send(method, path string, form url.Values, withToken bool) *httptest.ResponseRecorder {
	var cookie *http.Cookie
	unsafe := method != http.MethodGet && method != http.MethodHead
	if unsafe && withToken {
		cookie = f.csrfCookie()
		if form != nil || method == http.MethodPost {
			vals := url.Values{csrfField: {cookie.Value}}
			for k, v := range form {
				vals[k] = v
			}
			form = vals
		}
	}

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, path, nil)
		if cookie != nil {
			req.Header.Set(echo.HeaderXCSRFToken, cookie.Value)
		}
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

// csrfCookie is the cookie a browser gets when it opens the login page.
func (f fixture) csrfCookie() *http.Cookie {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, loginPath, nil))
	for _, c := range rec.Result().Cookies() {
		if c.Name == "_csrf" {
			return c
		}
	}
	panic("no csrf cookie set")
}

func checkResponse(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantLocation != "" {
		assert.Equal(t, tt.wantLocation, rec.Header().Get(echo.HeaderLocation))
	}
	for _, s := range tt.wantBody {
		assert.Contains(t, rec.Body.String(), s)
	}
}

func TestRequireSession_LoggedOut(t *testing.T) {
	f := setup(t)

	tests := []httpTest{
		{name: "dashboard", method: http.MethodGet, path: "/dashboard", wantCode: http.StatusFound, wantLocation: "/login?next=%2Fdashboard"},
		{name: "nested screen", method: http.MethodGet, path: "/dashboard/grades", wantCode: http.StatusFound, wantLocation: "/login?next=%2Fdashboard%2Fgrades"},
		{name: "superadmin", method: http.MethodGet, path: "/superadmin/schools", wantCode: http.StatusFound, wantLocation: "/login?next=%2Fsuperadmin%2Fschools"},
		{name: "unknown protected path", method: http.MethodGet, path: "/dashboard/nope", wantCode: http.StatusFound, wantLocation: "/login?next=%2Fdashboard%2Fnope"},
		{name: "home", method: http.MethodGet, path: "/", wantCode: http.StatusFound, wantLocation: "/login"},
		{name: "login page", method: http.MethodGet, path: "/login", wantCode: http.StatusOK, wantBody: []string{"Log in", `action="/login"`}},
		{name: "signup page", method: http.MethodGet, path: "/signup", wantCode: http.StatusOK, wantBody: []string{"Invite code"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkResponse(t, tt, f.do(tt.method, tt.path, tt.form))
		})
	}
}

func TestRequireSession_ReevaluatedOnEveryRequest(t *testing.T) {
	f := setup(t)
	f.loginAs(t, "pupil@school.test", user.RoleStudent)

	rec := f.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.store.Logout(context.Background())
	rec = f.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusFound, rec.Code)

	f.loginAs(t, "pupil2@school.test", user.RoleStudent)
	rec = f.do(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSession_TokenWithoutRole(t *testing.T) {
	f := setup(t)
	storage := inmemdb.Open()
	require.NoError(t, storage.Set(context.Background(), session.KeyToken, "stale"))
	store := session.NewStore(storage, nil)
	store.Initialize(context.Background())
	f.server = NewServer(ServerDeps{Conf: f.server.deps.Conf, Store: store, Toasts: f.toasts, Client: f.client})

	// authenticated, but no entry to navigate to
	rec := f.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-testid="sidebar"`)
	assert.NotContains(t, rec.Body.String(), "data-icon=")
}

func TestLogin(t *testing.T) {
	tests := []struct {
		httpTest
		wantAuth bool
	}{
		{
			httpTest: httpTest{
				name:         "student lands on the dashboard",
				form:         url.Values{"email": {"pupil@school.test"}, "password": {"Passw0rd!"}},
				wantCode:     http.StatusFound,
				wantLocation: "/dashboard",
			},
			wantAuth: true,
		},
		{
			httpTest: httpTest{
				name:         "email is normalized",
				form:         url.Values{"email": {"  PUPIL@school.test "}, "password": {"Passw0rd!"}},
				wantCode:     http.StatusFound,
				wantLocation: "/dashboard",
			},
			wantAuth: true,
		},
		{
			httpTest: httpTest{
				name:         "next is honoured",
				form:         url.Values{"email": {"pupil@school.test"}, "password": {"Passw0rd!"}, "next": {"/dashboard/grades"}},
				wantCode:     http.StatusFound,
				wantLocation: "/dashboard/grades",
			},
			wantAuth: true,
		},
		{
			httpTest: httpTest{
				name:         "external next is ignored",
				form:         url.Values{"email": {"pupil@school.test"}, "password": {"Passw0rd!"}, "next": {"//evil.test"}},
				wantCode:     http.StatusFound,
				wantLocation: "/dashboard",
			},
			wantAuth: true,
		},
		{
			httpTest: httpTest{
				name:     "wrong password shows the server message",
				form:     url.Values{"email": {"pupil@school.test"}, "password": {"nope"}},
				wantCode: http.StatusUnauthorized,
				wantBody: []string{"Invalid email or password", `value="pupil@school.test"`},
			},
		},
		{
			httpTest: httpTest{
				name:     "missing password",
				form:     url.Values{"email": {"pupil@school.test"}},
				wantCode: http.StatusBadRequest,
				wantBody: []string{"this field is required"},
			},
		},
		{
			httpTest: httpTest{
				name:     "bad email",
				form:     url.Values{"email": {"pupil"}, "password": {"Passw0rd!"}},
				wantCode: http.StatusBadRequest,
				wantBody: []string{"email must be a valid email address"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.api.AddUser("pupil@school.test", "Passw0rd!", user.RoleStudent)

			checkResponse(t, tt.httpTest, f.do(http.MethodPost, "/login", tt.form))

			sess := f.store.Session()
			assert.Equal(t, tt.wantAuth, sess.IsAuthenticated())
			if tt.wantAuth {
				assert.Equal(t, user.RoleStudent, sess.Role)
				toasts := f.toasts.List()
				require.Len(t, toasts, 1)
				assert.Equal(t, toast.TypeSuccess, toasts[0].Type)
			} else {
				assert.Empty(t, f.toasts.List())
			}
		})
	}
}

func TestLogin_FailureKeepsExistingSession(t *testing.T) {
	f := setup(t)
	token := f.loginAs(t, "teacher@school.test", user.RoleTeacher)

	rec := f.do(http.MethodPost, "/login", url.Values{"email": {"teacher@school.test"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := f.store.Session()
	assert.Equal(t, token, sess.Token)
	assert.Equal(t, user.RoleTeacher, sess.Role)
}

func TestLoginPage_RedirectsWhenAuthenticated(t *testing.T) {
	f := setup(t)
	f.loginAs(t, "root@school.test", user.RoleSuperAdmin)

	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/superadmin"}, f.do(http.MethodGet, "/login", nil))
	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/superadmin"}, f.do(http.MethodGet, "/", nil))
}

func TestSignup(t *testing.T) {
	tests := []httpTest{
		{
			name:         "valid invite",
			form:         url.Values{"email": {"mum@home.test"}, "password": {"Passw0rd!"}, "invite_code": {testutil.InviteCode}},
			wantCode:     http.StatusFound,
			wantLocation: "/dashboard",
		},
		{
			name:     "invalid invite",
			form:     url.Values{"email": {"mum@home.test"}, "password": {"Passw0rd!"}, "invite_code": {"NOPE"}},
			wantCode: http.StatusBadRequest,
			wantBody: []string{"Invalid invite code"},
		},
		{
			name:     "missing invite",
			form:     url.Values{"email": {"mum@home.test"}, "password": {"Passw0rd!"}},
			wantCode: http.StatusBadRequest,
			wantBody: []string{"this field is required"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			checkResponse(t, tt, f.do(http.MethodPost, "/signup", tt.form))
			assert.Equal(t, tt.wantCode == http.StatusFound, f.store.Session().IsAuthenticated())
		})
	}
}

func TestSignup_TakenEmail(t *testing.T) {
	f := setup(t)
	f.api.AddUser("mum@home.test", "x", user.RoleParent)

	rec := f.do(http.MethodPost, "/signup", url.Values{"email": {"mum@home.test"}, "password": {"Passw0rd!"}, "invite_code": {testutil.InviteCode}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Email already registered")
}

func TestLogout(t *testing.T) {
	f := setup(t)
	f.loginAs(t, "pupil@school.test", user.RoleStudent)

	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/login"}, f.do(http.MethodPost, "/logout", nil))
	assert.False(t, f.store.Session().IsAuthenticated())
	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/login?next=%2Fdashboard"}, f.do(http.MethodGet, "/dashboard", nil))

	// idempotent
	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/login"}, f.do(http.MethodPost, "/logout", nil))
}

func TestScreens(t *testing.T) {
	f := setup(t)
	f.loginAs(t, "pupil@school.test", user.RoleStudent)

	tests := []httpTest{
		{name: "dashboard", path: "/dashboard", wantCode: http.StatusOK, wantBody: []string{"<h1>Dashboard</h1>"}},
		{name: "trailing slash", path: "/dashboard/grades/", wantCode: http.StatusOK, wantBody: []string{"<h1>Grades</h1>"}},
		{name: "support", path: "/dashboard/tickets", wantCode: http.StatusOK, wantBody: []string{"<h1>Support</h1>"}},
		{name: "another role's screen", path: "/superadmin/schools", wantCode: http.StatusOK, wantBody: []string{"<h1>Schools</h1>"}},
		{name: "unknown screen", path: "/dashboard/nope", wantCode: http.StatusNotFound, wantBody: []string{"not found"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkResponse(t, tt, f.do(http.MethodGet, tt.path, nil))
		})
	}
}

func TestScreens_BothMenusShowTheRoleEntries(t *testing.T) {
	f := setup(t)
	f.loginAs(t, "pupil@school.test", user.RoleStudent)

	rec := f.do(http.MethodGet, "/dashboard/grades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `data-testid="sidebar"`)
	assert.Contains(t, body, `data-testid="drawer"`)
	for _, label := range []string{"Dashboard", "Grades", "Support"} {
		assert.Equal(t, 2, strings.Count(body, ">"+label+"</a>"), label)
	}
	for _, label := range []string{"Fees", "Students", "Schools", "Finance"} {
		assert.NotContains(t, body, ">"+label+"</a>")
	}
	assert.Equal(t, 2, strings.Count(body, `class="active"`))
}

func TestProxy(t *testing.T) {
	f := setup(t)
	token := f.loginAs(t, "teacher@school.test", user.RoleTeacher)

	rec := f.do(http.MethodGet, "/api/echo?page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Bearer "+token, got["authorization"])
	assert.Equal(t, "page=2", got["query"])

	rec = f.do(http.MethodGet, "/api/broken", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unavailable")
	assert.True(t, f.store.Session().IsAuthenticated())
}

func TestProxy_UnauthorizedTearsDownTheSession(t *testing.T) {
	f := setup(t)
	token := f.loginAs(t, "teacher@school.test", user.RoleTeacher)
	f.toasts.Clear()
	f.api.Revoke(token)

	rec := f.do(http.MethodGet, "/api/echo", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token revoked")
	assert.False(t, f.store.Session().IsAuthenticated())

	rec = f.do(http.MethodGet, "/toasts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var toasts []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toasts))
	require.Len(t, toasts, 1)
	assert.Equal(t, "error", toasts[0]["type"])
	assert.Equal(t, "Session expired", toasts[0]["title"])

	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/login?next=%2Fdashboard"}, f.do(http.MethodGet, "/dashboard", nil))
}

func TestToasts(t *testing.T) {
	f := setup(t)
	tst := f.toasts.Info("Heads up", "Maintenance tonight")

	rec := f.do(http.MethodGet, "/toasts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tst.ID)

	checkResponse(t, httpTest{wantCode: http.StatusOK, wantBody: []string{`"title":"Heads up"`, `"duration":3600000`}}, f.do(http.MethodGet, "/toasts/"+tst.ID, nil))

	checkResponse(t, httpTest{wantCode: http.StatusNoContent}, f.do(http.MethodDelete, "/toasts/"+tst.ID, nil))
	checkResponse(t, httpTest{wantCode: http.StatusNotFound, wantBody: []string{`{"error":"not found"}`}}, f.do(http.MethodDelete, "/toasts/"+tst.ID, nil))
	checkResponse(t, httpTest{wantCode: http.StatusNotFound}, f.do(http.MethodGet, "/toasts/"+tst.ID, nil))
	assert.Empty(t, f.toasts.List())
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{"", ""},
		{"/dashboard/grades", "/dashboard/grades"},
		{"/dashboard?tab=1", "/dashboard?tab=1"},
		{"https://evil.test", ""},
		{"//evil.test", ""},
		{"/\\evil.test", ""},
		{"/login", ""},
		{"/signup?x=1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, safeNext(tt.next))
		})
	}
}

func TestCSRF(t *testing.T) {
	f := setup(t)
	f.loginAs(t, "pupil@school.test", user.RoleStudent)
	cookie := f.csrfCookie()

	tests := []struct {
		httpTest
		cookie *http.Cookie
		token  string
	}{
		{httpTest: httpTest{name: "logout without token", method: http.MethodPost, path: "/logout", wantCode: http.StatusBadRequest}},
		{httpTest: httpTest{name: "logout with foreign token", method: http.MethodPost, path: "/logout", wantCode: http.StatusForbidden}, cookie: cookie, token: "forged"},
		{httpTest: httpTest{name: "login without token", method: http.MethodPost, path: "/login", wantCode: http.StatusBadRequest}},
		{httpTest: httpTest{name: "dismiss toast without token", method: http.MethodDelete, path: "/toasts/x", wantCode: http.StatusBadRequest}},
		{httpTest: httpTest{name: "api write without token", method: http.MethodPost, path: "/api/echo", wantCode: http.StatusBadRequest}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"email": {"pupil@school.test"}, "password": {"Passw0rd!"}}
			if tt.token != "" {
				form.Set(csrfField, tt.token)
			}
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(form.Encode()))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			f.server.ServeHTTP(rec, req)

			checkResponse(t, tt.httpTest, rec)
			assert.True(t, f.store.Session().IsAuthenticated(), "session must survive a cross-site request")
		})
	}

	// the page's own token goes through
	checkResponse(t, httpTest{wantCode: http.StatusFound, wantLocation: "/login"}, f.do(http.MethodPost, "/logout", nil))
	assert.False(t, f.store.Session().IsAuthenticated())
}

func TestCSRF_tokenRenderedInForms(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/login", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "_csrf" {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)
	assert.Contains(t, rec.Body.String(), `name="_csrf" value="`+token+`"`)

	f.loginAs(t, "pupil@school.test", user.RoleStudent)
	rec = f.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/logout"><input type="hidden" name="_csrf"`)
}
