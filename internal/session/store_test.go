package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create()
	require.NotEmpty(t, sess.Token)
	assert.False(t, sess.Authenticated())

	got, ok := s.Get(sess.Token)
	require.True(t, ok)
	assert.Equal(t, sess.Token, got.Token)
}

func TestGetUnknownToken(t *testing.T) {
	s := NewStore(time.Hour)
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestExpiredSessionReadsAsAbsent(t *testing.T) {
	s := NewStore(time.Millisecond)
	sess := s.Create()
	time.Sleep(5 * time.Millisecond)
	_, ok := s.Get(sess.Token)
	assert.False(t, ok)
}

func TestBindAuthenticatesSession(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create()
	s.Bind(sess.Token, "sub-1")

	got, ok := s.Get(sess.Token)
	require.True(t, ok)
	assert.True(t, got.Authenticated())
	assert.Equal(t, "sub-1", got.SubjectID)
}

func TestReturnToRoundTrip(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create()

	assert.Equal(t, "/", s.ConsumeReturnTo(sess.Token), "unset resume path defaults to root")

	s.SetReturnTo(sess.Token, "/dashboard/api/v1/pods")
	assert.Equal(t, "/dashboard/api/v1/pods", s.ConsumeReturnTo(sess.Token))
	assert.Equal(t, "/", s.ConsumeReturnTo(sess.Token), "resume path is single use")
}

func TestDowngrade(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create()
	s.Bind(sess.Token, "sub-1")

	s.Downgrade(sess.Token, "/dashboard/node")

	got, ok := s.Get(sess.Token)
	require.True(t, ok, "downgraded session stays alive")
	assert.False(t, got.Authenticated())
	assert.Equal(t, "/dashboard/node", got.ReturnTo)
}

func TestClear(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create()
	s.Bind(sess.Token, "sub-1")
	s.SetReturnTo(sess.Token, "/dashboard")

	s.Clear(sess.Token)

	got, ok := s.Get(sess.Token)
	require.True(t, ok)
	assert.False(t, got.Authenticated())
	assert.Empty(t, got.ReturnTo)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore(time.Hour)
	sess := s.Create()

	got, _ := s.Get(sess.Token)
	got.SubjectID = "mutated"

	again, _ := s.Get(sess.Token)
	assert.Empty(t, again.SubjectID)
}
