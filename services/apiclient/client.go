// Package apiclient talks to the remote school API on behalf of the current session.
//
// Every request carries the session token as it was when the request was dispatched.
// A 401 from the API tears the session down, raises a toast and is still returned to the caller.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/toast"
	"github.com/trezcool/masomo/portal/core/user"
)

const (
	sessionExpiredTitle   = "Session expired"
	sessionExpiredMessage = "Your session is no longer valid. Please log in again."
)

var ErrUnsupportedRole = errors.New("the account has an unsupported role")

type (
	// APIError is a non-2xx answer from the API.
	APIError struct {
		Status  int
		Message string
	}

	// Response is a raw API answer, as relayed by the portal's pass-through.
	Response struct {
		Status int
		Header http.Header
		Body   []byte
	}

	Client struct {
		rc     *resty.Client
		conf   core.APIConfig
		store  *session.Store
		toasts *toast.Center
		logger core.Logger
	}

	errorBody struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	loginResponse struct {
		AccessToken string    `json:"access_token"`
		User        user.User `json:"user"`
	}

	publicKey struct{}
)

func (err *APIError) Error() string {
	msg := err.Message
	if msg == "" {
		msg = http.StatusText(err.Status)
	}
	return fmt.Sprintf("api: %d: %s", err.Status, msg)
}

// IsUnauthorized reports whether err is (or wraps) a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// New returns a Client bound to the session store. toasts and logger may be nil.
func New(conf core.APIConfig, store *session.Store, toasts *toast.Center, logger core.Logger) *Client {
	if logger == nil {
		logger = core.NopLogger{}
	}
	c := &Client{
		conf:   conf,
		store:  store,
		toasts: toasts,
		logger: logger,
	}
	c.rc = resty.New().
		SetBaseURL(conf.BaseURL).
		SetTimeout(conf.Timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(c.authenticate).
		OnAfterResponse(c.checkAuthorization)
	return c
}

// authenticate attaches the token of the session as it is right now, at dispatch time.
func (c *Client) authenticate(_ *resty.Client, req *resty.Request) error {
	req.Header.Del("Authorization")
	if token := c.store.Session().Token; token != "" {
		req.SetAuthToken(token)
	}
	return nil
}

// checkAuthorization tears the session down on a 401 and fails the call.
// Public calls (login, signup) report bad credentials with 401 too: those leave the session alone.
func (c *Client) checkAuthorization(_ *resty.Client, resp *resty.Response) error {
	if resp.StatusCode() != http.StatusUnauthorized {
		return nil
	}
	apiErr := newAPIError(resp)
	ctx := resp.Request.Context()
	if public, _ := ctx.Value(publicKey{}).(bool); public {
		return apiErr
	}

	c.logger.Info("session rejected by the API, logging out", map[string]interface{}{
		"method": resp.Request.Method,
		"url":    resp.Request.URL,
	})
	c.store.Logout(context.WithoutCancel(ctx))
	if c.toasts != nil {
		c.toasts.Error(sessionExpiredTitle, sessionExpiredMessage)
	}
	return apiErr
}

func newAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode()}
	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	} else if s := strings.TrimSpace(string(resp.Body())); s != "" && len(s) < 512 {
		apiErr.Message = s
	}
	return apiErr
}

func withPublic(ctx context.Context) context.Context {
	return context.WithValue(ctx, publicKey{}, true)
}

// request sends a JSON request and decodes a 2xx answer into result (may be nil).
func (c *Client) request(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsError() {
		return newAPIError(resp)
	}
	return nil
}

// Login authenticates with the API and, on success, replaces the session.
// A rejection leaves the session untouched and returns the *APIError carrying the server's message.
func (c *Client) Login(ctx context.Context, creds user.Credentials) (session.Session, error) {
	var res loginResponse
	if err := c.request(withPublic(ctx), http.MethodPost, c.conf.LoginPath, creds, &res); err != nil {
		return session.Session{}, err
	}
	if err := checkUser(res.User); err != nil {
		return session.Session{}, err
	}
	if err := c.store.Login(ctx, res.AccessToken, res.User.Role, &res.User); err != nil {
		return session.Session{}, errors.Wrap(err, "storing session")
	}
	return c.store.Session(), nil
}

// Signup creates the account, then logs in with the same credentials.
func (c *Client) Signup(ctx context.Context, s user.Signup) (session.Session, error) {
	if err := c.request(withPublic(ctx), http.MethodPost, c.conf.SignupPath, s, nil); err != nil {
		return session.Session{}, err
	}
	return c.Login(ctx, s.Credentials())
}

// Profile fetches the current user and refreshes the session's user summary (and role) with it.
// The session is only refreshed if it still holds the token the profile was fetched with.
func (c *Client) Profile(ctx context.Context) (user.User, error) {
	token := c.store.Session().Token
	var usr user.User
	if err := c.request(ctx, http.MethodGet, c.conf.ProfilePath, nil, &usr); err != nil {
		return user.User{}, err
	}
	if token == "" {
		return usr, nil
	}
	if err := checkUser(usr); err != nil {
		return usr, err
	}
	err := c.store.Refresh(ctx, token, usr.Role, &usr)
	if err != nil && !errors.Is(err, session.ErrStaleToken) {
		return usr, errors.Wrap(err, "refreshing session")
	}
	return usr, nil
}

// checkUser validates the user summary sent by the API.
func checkUser(usr user.User) error {
	err := core.ValidateStruct(usr)
	if err == nil {
		return nil
	}
	if vErr, ok := errors.Cause(err).(*core.ValidationError); ok {
		if _, bad := vErr.FieldErrors()["role"]; bad {
			return errors.Wrapf(ErrUnsupportedRole, "%q", usr.Role)
		}
	}
	return errors.Wrap(err, "invalid user")
}

// Do relays an arbitrary request. Non-2xx answers are returned as a Response, not an error,
// except a 401 which returns both the Response and an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, header http.Header, body []byte) (*Response, error) {
	req := c.rc.R().SetContext(ctx).SetQueryParamsFromValues(query)
	for _, h := range []string{"Content-Type", "Accept", "Accept-Language"} {
		if v := header.Get(h); v != "" {
			req.SetHeader(h, v)
		}
	}
	if len(body) > 0 {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if resp == nil || resp.RawResponse == nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	out := &Response{
		Status: resp.StatusCode(),
		Header: resp.Header(),
		Body:   resp.Body(),
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return out, apiErr
		}
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return out, nil
}
