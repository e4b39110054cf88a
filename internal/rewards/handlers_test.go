package rewards

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/echezona/sokopay/internal/identity"
)

func TestFailStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{}

	cases := []struct {
		name string
		err  error
		code int
	}{
		// A repeat daily claim is rate limiting, not a conflict.
		{"already claimed", ErrAlreadyClaimed, http.StatusTooManyRequests},
		{"already referred", ErrAlreadyReferred, http.StatusConflict},
		{"self referral", ErrSelfReferral, http.StatusBadRequest},
		{"referrer missing", identity.ErrUserNotFound, http.StatusNotFound},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPost, "/rewards/ad", nil)

			h.fail(c, tc.err)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}
