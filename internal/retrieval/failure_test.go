package retrieval

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus_Taxonomy(t *testing.T) {
	t.Parallel()

	cases := map[int]Class{
		http.StatusForbidden:                  BlockedByOrigin,
		http.StatusUnavailableForLegalReasons: BlockedByOrigin,
		http.StatusTooManyRequests:            Throttled,
		http.StatusServiceUnavailable:         Throttled,
		http.StatusGatewayTimeout:             Throttled,
		http.StatusProxyAuthRequired:          EgressFailure,
		http.StatusNotFound:                   ContentAbsent,
		http.StatusGone:                       ContentAbsent,
		http.StatusInternalServerError:        Throttled,
		http.StatusBadRequest:                 ContentAbsent,
	}
	for status, want := range cases {
		require.Equal(t, want, ClassifyStatus(status), "status %d", status)
	}
}

func TestClassOf_UnwrapsThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := StatusFailure(http.StatusTooManyRequests, "slow down")
	wrapped := fmt.Errorf("tier direct: %w", inner)

	class, ok := ClassOf(wrapped)
	require.True(t, ok)
	require.Equal(t, Throttled, class)
	require.Equal(t, http.StatusTooManyRequests, StatusOf(wrapped))
	require.True(t, IsClass(wrapped, Throttled))
}

func TestClassOf_PlainError(t *testing.T) {
	t.Parallel()

	_, ok := ClassOf(errors.New("boom"))
	require.False(t, ok)
	require.False(t, RotatesSession(errors.New("boom")))
}

func TestRetryAfterOf_CarriesHint(t *testing.T) {
	t.Parallel()

	f := StatusFailure(http.StatusServiceUnavailable, "maintenance")
	f.RetryAfter = 7 * time.Second
	require.Equal(t, 7*time.Second, RetryAfterOf(f))
	require.Zero(t, RetryAfterOf(NewFailure(ContentAbsent, "nothing")))
}

func TestRotatesSession_OnlyIdentitySpecificClasses(t *testing.T) {
	t.Parallel()

	require.True(t, RotatesSession(NewFailure(Throttled, "x")))
	require.True(t, RotatesSession(NewFailure(BlockedByOrigin, "x")))
	require.True(t, RotatesSession(NewFailure(EgressFailure, "x")))
	require.False(t, RotatesSession(NewFailure(ContentAbsent, "x")))
	require.False(t, RotatesSession(NewFailure(BudgetExceeded, "x")))
	require.False(t, RotatesSession(NewFailure(DecodeFailure, "x")))
}
