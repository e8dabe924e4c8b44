package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/core/user"
	inmemdb "github.com/trezcool/masomo/portal/storage/database/inmem"
)

// Fake API settings
const (
	InviteCode = "WELCOME-2024"
	secret     = "test-secret"
)

type (
	account struct {
		password string
		user     user.User
	}

	claims struct {
		jwt.RegisteredClaims
		Email string `json:"email"`
	}

	// API is an in-process stand-in for the remote school API.
	API struct {
		*httptest.Server

		mu       sync.Mutex
		accounts map[string]account
		revoked  map[string]bool
		seen     []string // Authorization headers received, in order
		gate     chan struct{}
		meGate   chan struct{}
		nextID   int64
	}
)

// NewAPI starts a fake API. It is closed when the test ends.
func NewAPI(t *testing.T) *API {
	api := &API{
		accounts: make(map[string]account),
		revoked:  make(map[string]bool),
	}
	e := echo.New()
	e.HideBanner = true
	e.POST("/auth/login", api.login)
	e.POST("/auth/signup", api.signup)
	e.GET("/auth/me", api.me, api.requireToken)
	e.Any("/echo", api.echoRequest, api.requireToken)
	e.GET("/public", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, echo.Map{"authorization": ctx.Request().Header.Get("Authorization")})
	})
	e.GET("/slow", api.slow, api.requireToken)
	e.GET("/broken", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusInternalServerError, echo.Map{"error": "database unavailable"})
	})
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			api.mu.Lock()
			api.seen = append(api.seen, ctx.Request().Header.Get("Authorization"))
			api.mu.Unlock()
			return next(ctx)
		}
	})
	api.Server = httptest.NewServer(e)
	t.Cleanup(api.Close)
	return api
}

// AddUser registers an account that can log in.
func (api *API) AddUser(email, pwd string, role user.Role) user.User {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.nextID++
	usr := user.User{ID: api.nextID, Name: strings.Split(email, "@")[0], Email: email, Role: role}
	api.accounts[email] = account{password: pwd, user: usr}
	return usr
}

// Token issues a valid token for the account.
func (api *API) Token(t *testing.T, email string) string {
	token, err := signToken(email)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	return token
}

// Revoke makes the API answer 401 to requests carrying token.
func (api *API) Revoke(token string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.revoked[token] = true
}

// Seen returns the Authorization headers received so far.
func (api *API) Seen() []string {
	api.mu.Lock()
	defer api.mu.Unlock()
	out := make([]string, len(api.seen))
	copy(out, api.seen)
	return out
}

// HoldSlow makes GET /slow block until the returned release func is called.
func (api *API) HoldSlow() (release func()) {
	api.mu.Lock()
	defer api.mu.Unlock()
	gate := make(chan struct{})
	api.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// HoldProfile makes GET /auth/me block until the returned release func is called.
func (api *API) HoldProfile() (release func()) {
	api.mu.Lock()
	defer api.mu.Unlock()
	gate := make(chan struct{})
	api.meGate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func signToken(email string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    "masomo-test-api",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func errJSON(ctx echo.Context, code int, msg string) error {
	return ctx.JSON(code, echo.Map{"error": msg})
}

func (api *API) login(ctx echo.Context) error {
	var creds user.Credentials
	if err := ctx.Bind(&creds); err != nil {
		return errJSON(ctx, http.StatusBadRequest, "malformed request")
	}
	api.mu.Lock()
	acc, ok := api.accounts[core.CleanString(creds.Email, true)]
	api.mu.Unlock()
	if !ok || acc.password != creds.Password {
		return errJSON(ctx, http.StatusUnauthorized, "Invalid email or password")
	}
	token, err := signToken(acc.user.Email)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"access_token": token, "user": acc.user})
}

func (api *API) signup(ctx echo.Context) error {
	var s user.Signup
	if err := ctx.Bind(&s); err != nil {
		return errJSON(ctx, http.StatusBadRequest, "malformed request")
	}
	if s.InviteCode != InviteCode {
		return errJSON(ctx, http.StatusBadRequest, "Invalid invite code")
	}
	api.mu.Lock()
	_, exists := api.accounts[s.Email]
	api.mu.Unlock()
	if exists {
		return errJSON(ctx, http.StatusConflict, "Email already registered")
	}
	api.AddUser(s.Email, s.Password, user.RoleParent)
	return ctx.NoContent(http.StatusCreated)
}

func (api *API) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		raw := strings.TrimPrefix(ctx.Request().Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			return errJSON(ctx, http.StatusUnauthorized, "missing token")
		}
		api.mu.Lock()
		revoked := api.revoked[raw]
		api.mu.Unlock()
		if revoked {
			return errJSON(ctx, http.StatusUnauthorized, "token revoked")
		}
		var c claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) { return []byte(secret), nil })
		if err != nil {
			return errJSON(ctx, http.StatusUnauthorized, "invalid or expired token")
		}
		ctx.Set("email", c.Email)
		return next(ctx)
	}
}

func (api *API) me(ctx echo.Context) error {
	email, _ := ctx.Get("email").(string)
	api.mu.Lock()
	gate := api.meGate
	api.mu.Unlock()
	if gate != nil {
		<-gate
	}
	api.mu.Lock()
	acc, ok := api.accounts[email]
	api.mu.Unlock()
	if !ok {
		return errJSON(ctx, http.StatusUnauthorized, "unknown user")
	}
	return ctx.JSON(http.StatusOK, acc.user)
}

func (api *API) echoRequest(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{
		"method":        ctx.Request().Method,
		"query":         ctx.QueryString(),
		"authorization": ctx.Request().Header.Get("Authorization"),
	})
}

func (api *API) slow(ctx echo.Context) error {
	api.mu.Lock()
	gate := api.gate
	api.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return ctx.JSON(http.StatusOK, echo.Map{"authorization": ctx.Request().Header.Get("Authorization")})
}

// APIConfig returns the portal settings pointing at the fake API.
func (api *API) APIConfig() core.APIConfig {
	return core.APIConfig{
		BaseURL:     api.URL,
		Timeout:     5 * time.Second,
		LoginPath:   "/auth/login",
		SignupPath:  "/auth/signup",
		ProfilePath: "/auth/me",
	}
}

// NewStore returns an initialized session store over fresh in-memory storage.
func NewStore(t *testing.T) (*session.Store, *inmemdb.Storage) {
	storage := inmemdb.Open()
	store := session.NewStore(storage, nil)
	store.Initialize(context.Background())
	return store, storage
}

// NewToasts returns a toast center whose toasts outlive the test.
func NewToasts() *toast.Center {
	return toast.NewCenter(time.Hour)
}
