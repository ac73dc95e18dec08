package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tgw_go/pkg/session"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{session.ValidateAccountID(""), http.StatusBadRequest, "account_id is required"},
		{errors.Wrap(session.ErrNotConnected, "account a"), http.StatusBadRequest, "account is not connected"},
		{session.ErrAlreadyTerminating, http.StatusConflict, "account is being disconnected"},
		{errors.Mark(errors.New("PEER_FLOOD secret detail"), session.ErrTransport), http.StatusInternalServerError, "telegram request failed"},
		{errors.Mark(errors.Mark(errors.New("x"), session.ErrTransport), session.ErrSendFailed), http.StatusInternalServerError, "failed to send message"},
		{errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		status, msg := StatusOf(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.msg, msg, tc.err.Error())
	}
}

func TestRespondErrWritesUniformBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		RespondErr(c, zaptest.NewLogger(t), errors.Mark(errors.New("dial tcp 10.0.0.1"), session.ErrTransport))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"error": "telegram request failed"}, body)
}
