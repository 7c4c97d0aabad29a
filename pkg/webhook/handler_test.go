package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge-hq/chatbridge/pkg/idempotency"
	"github.com/chatbridge-hq/chatbridge/pkg/signature"
)

const testSecret = "test-shared-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *idempotency.Store) {
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	idemStore := idempotency.New(rdb, time.Hour)

	h := &Handler{
		idemStore: idemStore,
		repo:      NewRepository(),
		instagram: staticSecrets{secret: testSecret, verifyToken: "verify-me"},
		manychat:  staticSecrets{secret: testSecret},
	}

	r := gin.New()
	h.RegisterRoutes(r)
	return r, idemStore
}

func signedRequest(method, path, body, secret string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Hub-Signature-256", signature.ComputeHex(signature.AlgoSHA256, secret, []byte(body)))
	}
	return req
}

func TestVerifyInstagram_EchoesChallenge(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/instagram?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "12345", w.Body.String())
}

func TestVerifyInstagram_WrongToken(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleInstagram_MissingSignature(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/instagram", strings.NewReader(`{"object":"instagram"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "MISSING_SIGNATURE")
}

func TestHandleInstagram_InvalidSignature(t *testing.T) {
	r, _ := newTestRouter(t)

	req := signedRequest(http.MethodPost, "/webhooks/instagram", `{"object":"instagram"}`, "wrong-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "INVALID_SIGNATURE")
}

func TestHandleInstagram_MalformedPayloadAfterValidSignature(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"object":"instagram","entry":[`
	req := signedRequest(http.MethodPost, "/webhooks/instagram", body, testSecret)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "MALFORMED_PAYLOAD")
}

func TestHandleInstagram_ZeroInteractionsStillAcks(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"object":"instagram","entry":[{"id":"IGBA1","time":1700000000}]}`
	req := signedRequest(http.MethodPost, "/webhooks/instagram", body, testSecret)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "EVENT_RECEIVED")
}

func TestHandleInstagram_DuplicateDeliveryIsAckedWithoutReprocessing(t *testing.T) {
	r, _ := newTestRouter(t)

	body := `{"object":"instagram","entry":[{"id":"IGBA1","time":1700000000}]}`

	first := httptest.NewRecorder()
	r.ServeHTTP(first, signedRequest(http.MethodPost, "/webhooks/instagram", body, testSecret))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, signedRequest(http.MethodPost, "/webhooks/instagram", body, testSecret))
	require.Equal(t, http.StatusOK, second.Code)
	require.Contains(t, second.Body.String(), "DUPLICATE_IGNORED")
}

func TestHandleManyChat_InvalidSignature(t *testing.T) {
	r, _ := newTestRouter(t)

	req := signedRequest(http.MethodPost, "/webhooks/manychat", `{"page_id":"IGBA1"}`, "wrong-secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
