package egress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testCreds() Credentials {
	return Credentials{
		Host:     "proxy.example.net",
		Port:     8000,
		Username: "acct",
		Password: "secret",
		Country:  "us",
	}
}

func TestPool_AcquireIsSticky(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	p := NewPool(testCreds(), 10*time.Minute, clk, zap.NewNop())

	first := p.Acquire()
	second := p.Acquire()
	require.Equal(t, first.ID, second.ID)
	require.NotEmpty(t, first.ID)
	require.False(t, first.None())
}

func TestPool_RotateMintsFreshIdentity(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	p := NewPool(testCreds(), 10*time.Minute, clk, zap.NewNop())

	first := p.Acquire()
	rotated := p.Rotate()
	require.NotEqual(t, first.ID, rotated.ID)
	require.Equal(t, rotated.ID, p.Acquire().ID)
}

func TestPool_ExpiredSessionReplacedLazily(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	p := NewPool(testCreds(), time.Minute, clk, zap.NewNop())

	first := p.Acquire()
	clk.now = clk.now.Add(2 * time.Minute)
	second := p.Acquire()
	require.NotEqual(t, first.ID, second.ID)
}

func TestPool_ProxyURLEncodesSessionAndCountry(t *testing.T) {
	t.Parallel()

	p := NewPool(testCreds(), time.Minute, nil, zap.NewNop())
	s := p.Acquire()

	require.NotNil(t, s.ProxyURL)
	require.Equal(t, "proxy.example.net:8000", s.ProxyURL.Host)
	user := s.ProxyURL.User.Username()
	require.Contains(t, user, "acct-session-"+s.ID)
	require.Contains(t, user, "-country-US")
	pass, ok := s.ProxyURL.User.Password()
	require.True(t, ok)
	require.Equal(t, "secret", pass)
}

func TestPool_WithoutCredentialsDegradesToNone(t *testing.T) {
	t.Parallel()

	p := NewPool(Credentials{}, time.Minute, nil, zap.NewNop())

	s := p.Acquire()
	require.True(t, s.None())
	require.Nil(t, s.ProxyURL)

	rotated := p.Rotate()
	require.True(t, rotated.None())
}
