package signal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/domain"
)

func TestEventRateLimiter(t *testing.T) {
	rl := NewEventRateLimiter(2, time.Second)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("42"))
	assert.True(t, rl.Allow("42"))
	assert.False(t, rl.Allow("42"))
	assert.True(t, rl.Allow("43"), "windows are per user")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("42"))

	rl.Forget("42")
	rl.Forget("43")
	assert.Equal(t, 0, rl.Len())
}

func TestEventRateLimiter_Disabled(t *testing.T) {
	rl := NewEventRateLimiter(0, time.Second)
	for range 100 {
		assert.True(t, rl.Allow("42"))
	}
	assert.Equal(t, 0, rl.Len())
}

func TestCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/ws?token=from-query", nil)
	assert.Equal(t, "from-query", Credential(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", Credential(r))

	r = httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	assert.Empty(t, Credential(r))
}

func TestHandshakeStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrCredentialMissing, http.StatusUnauthorized},
		{fmt.Errorf("%w: expired", domain.ErrCredentialInvalid), http.StatusUnauthorized},
		{domain.ErrIdentityNotFound, http.StatusUnauthorized},
		{domain.ErrRoleNotFound, http.StatusForbidden},
		{fmt.Errorf("lookup user: disk I/O"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HandshakeStatus(tt.err), tt.err.Error())
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "forbidden", errorCode(fmt.Errorf("%w: customer:43", orch.ErrNotAuthorized)))
	assert.Equal(t, "bad_payload", errorCode(errBadPayload))
	assert.Equal(t, "invalid_room_name", errorCode(domain.ErrInvalidRoomName))
}

func TestEvents(t *testing.T) {
	ctl := NewSignalWSController(&orch.Orchestrator{}, &config.Config{})
	assert.Equal(t, []string{"logout", "ping", "rooms", "subscribe", "unsubscribe", "whoami"}, ctl.Events())
}
