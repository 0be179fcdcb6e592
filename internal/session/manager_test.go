package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	hashKey := bytes.Repeat([]byte("h"), 32)
	blockKey := bytes.Repeat([]byte("b"), 32)
	m, err := NewManager(NewStore(time.Hour), hashKey, blockKey, "gateway_session", false, time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewManagerRejectsShortKeys(t *testing.T) {
	_, err := NewManager(NewStore(time.Hour), []byte("short"), bytes.Repeat([]byte("b"), 32), "c", false, time.Hour)
	assert.Error(t, err)
}

func TestResolveCreatesSessionAndCookie(t *testing.T) {
	m := testManager(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := m.Resolve(rec, req)

	assert.NotEmpty(t, sess.Token)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "gateway_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotContains(t, cookies[0].Value, sess.Token, "cookie must not carry the raw token")
}

func TestSecureCookieAllowsCrossSiteCallback(t *testing.T) {
	hashKey := bytes.Repeat([]byte("h"), 32)
	blockKey := bytes.Repeat([]byte("b"), 32)
	m, err := NewManager(NewStore(time.Hour), hashKey, blockKey, "gateway_session", true, time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookie := rec.Result().Cookies()[0]
	assert.Equal(t, http.SameSiteNoneMode, cookie.SameSite,
		"secure deployments must send the cookie on the provider's cross-site POST")
	assert.True(t, cookie.Secure)
}

func TestInsecureCookieStaysLax(t *testing.T) {
	m := testManager(t)

	rec := httptest.NewRecorder()
	m.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookie := rec.Result().Cookies()[0]
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.False(t, cookie.Secure)
}

func TestResolveRoundTrip(t *testing.T) {
	m := testManager(t)

	rec := httptest.NewRecorder()
	first := m.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	second := m.Resolve(httptest.NewRecorder(), req)

	assert.Equal(t, first.Token, second.Token)
}

func TestResolveRejectsTamperedCookie(t *testing.T) {
	m := testManager(t)

	rec := httptest.NewRecorder()
	first := m.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookie := rec.Result().Cookies()[0]
	cookie.Value = cookie.Value[:len(cookie.Value)-2] + "xx"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	second := m.Resolve(httptest.NewRecorder(), req)
	assert.NotEqual(t, first.Token, second.Token, "tampered cookie must yield a fresh session")
}

func TestPeekWithoutCookie(t *testing.T) {
	m := testManager(t)
	_, ok := m.Peek(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestPeekSeesBoundIdentity(t *testing.T) {
	m := testManager(t)

	rec := httptest.NewRecorder()
	sess := m.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	m.Store().Bind(sess.Token, "sub-1")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	got, ok := m.Peek(req)
	require.True(t, ok)
	assert.Equal(t, "sub-1", got.SubjectID)
}
