package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smnthegr/calamansi-detection/internal/detection"
	"github.com/smnthegr/calamansi-detection/internal/ledger"
)

type stubDetector struct {
	outcome detection.Outcome
	lastReq detection.Request
	calls   int
}

func (s *stubDetector) Detect(ctx context.Context, req detection.Request) detection.Outcome {
	s.calls++
	s.lastReq = req
	return s.outcome
}

type stubStore struct {
	cached  map[string]string
	row     *ledger.DetectionAttempt
	summary *ledger.UsageSummary
	daily   int64
}

func newStubStore() *stubStore {
	return &stubStore{cached: make(map[string]string), summary: &ledger.UsageSummary{}}
}

func (s *stubStore) CacheOutcome(ctx context.Context, requestID, payload string, ttl time.Duration) error {
	s.cached[requestID] = payload
	return nil
}

func (s *stubStore) CachedOutcome(ctx context.Context, requestID string) (string, error) {
	if payload, ok := s.cached[requestID]; ok {
		return payload, nil
	}
	return "", ledger.ErrCacheMiss
}

func (s *stubStore) FindByRequestID(ctx context.Context, requestID string) (*ledger.DetectionAttempt, error) {
	if s.row != nil && s.row.RequestID == requestID {
		return s.row, nil
	}
	return nil, ledger.ErrCacheMiss
}

func (s *stubStore) Summarize(ctx context.Context) (*ledger.UsageSummary, error) {
	return s.summary, nil
}

func (s *stubStore) DailySuccessCount(ctx context.Context, day time.Time) (int64, error) {
	return s.daily, nil
}

func newTestRouter(detector Detector, store ResultStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize

	RegisterRoutes(router, Deps{
		Detector:    detector,
		Store:       store,
		Breaker:     detection.NewCircuitBreaker(5, time.Minute),
		Gate:        detection.NewGate(10, 0, nopUsage{}, zap.NewNop()),
		DailyBudget: 100,
		Logger:      zap.NewNop(),
	})
	return router
}

type nopUsage struct{}

func (nopUsage) DailySuccessCount(ctx context.Context, day time.Time) (int64, error) {
	return 0, nil
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func postImage(t *testing.T, router *gin.Engine, contentType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formContentType := buildMultipartBody(t, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", formContentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestDetectReturnsAcceptedBody(t *testing.T) {
	detector := &stubDetector{outcome: detection.Outcome{
		Status: detection.StatusAccepted,
		Result: &detection.AcceptedResult{
			PrimaryClass:        "calamansi",
			PrimaryConfidence:   90.00,
			SecondaryClass:      "leaf_spot",
			SecondaryConfidence: 75.00,
		},
	}}
	store := newStubStore()
	router := newTestRouter(detector, store)

	resp := postImage(t, router, "image/jpeg", []byte("img"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		RequestID string                    `json:"request_id"`
		Status    string                    `json:"status"`
		Result    *detection.AcceptedResult `json:"result"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body.Status != "accepted" || body.Result == nil || body.Result.SecondaryConfidence != 75.00 {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
	if body.RequestID == "" {
		t.Fatal("request id missing from response")
	}
	if _, ok := store.cached[body.RequestID]; !ok {
		t.Fatal("outcome not cached for result lookups")
	}
}

func TestDetectMapsFailureKindsToStatuses(t *testing.T) {
	cases := []struct {
		kind detection.Kind
		want int
	}{
		{detection.KindCapacityExceeded, http.StatusTooManyRequests},
		{detection.KindBudgetExceeded, http.StatusTooManyRequests},
		{detection.KindCircuitOpen, http.StatusServiceUnavailable},
		{detection.KindTimeout, http.StatusGatewayTimeout},
		{detection.KindInvalidInput, http.StatusBadRequest},
		{detection.KindUpstreamError, http.StatusBadGateway},
	}

	for _, tc := range cases {
		detector := &stubDetector{outcome: detection.Outcome{
			Status:  detection.StatusFailed,
			Kind:    tc.kind,
			Message: detection.UserMessage(tc.kind),
		}}
		router := newTestRouter(detector, newStubStore())

		resp := postImage(t, router, "image/jpeg", []byte("img"))
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.kind, tc.want, resp.Code)
		}
	}
}

func TestDetectRejectionIsBusinessResponse(t *testing.T) {
	detector := &stubDetector{outcome: detection.Outcome{
		Status:  detection.StatusRejected,
		Reason:  detection.ReasonLowPrimaryConfidence,
		Message: "the primary model is not confident enough in this image",
	}}
	router := newTestRouter(detector, newStubStore())

	resp := postImage(t, router, "image/jpeg", []byte("img"))
	if resp.Code != http.StatusOK {
		t.Fatalf("rejection must be a 200 business response, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["reason"] != string(detection.ReasonLowPrimaryConfidence) {
		t.Fatalf("rejection reason missing: %s", resp.Body.String())
	}
}

func TestDetectRequiresImageFile(t *testing.T) {
	router := newTestRouter(&stubDetector{}, newStubStore())

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString("no file"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestDetectRejectsUnsupportedContentType(t *testing.T) {
	detector := &stubDetector{}
	router := newTestRouter(detector, newStubStore())

	resp := postImage(t, router, "text/plain", []byte("hello"))
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.Code)
	}
	if detector.calls != 0 {
		t.Fatal("unsupported upload still reached the pipeline")
	}
}

func TestDetectPassesThresholdOverrides(t *testing.T) {
	detector := &stubDetector{outcome: detection.Outcome{Status: detection.StatusRejected, Reason: detection.ReasonLowPrimaryConfidence}}
	router := newTestRouter(detector, newStubStore())

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	part.Write([]byte("img"))                      //nolint:errcheck
	writer.WriteField("primary_threshold", "0.65") //nolint:errcheck
	writer.Close()                                 //nolint:errcheck

	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if detector.lastReq.PrimaryThreshold == nil || *detector.lastReq.PrimaryThreshold != 0.65 {
		t.Fatalf("threshold override not forwarded: %+v", detector.lastReq.PrimaryThreshold)
	}
}

func TestResultServedFromCache(t *testing.T) {
	store := newStubStore()
	store.cached["req-9"] = `{"request_id":"req-9","status":"accepted"}`
	router := newTestRouter(&stubDetector{}, store)

	req := httptest.NewRequest(http.MethodGet, "/result/req-9", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"req-9"`)) {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestResultFallsBackToAuditStore(t *testing.T) {
	store := newStubStore()
	store.row = &ledger.DetectionAttempt{RequestID: "req-7", Status: "rejected", Reason: "low_primary_confidence"}
	router := newTestRouter(&stubDetector{}, store)

	req := httptest.NewRequest(http.MethodGet, "/result/req-7", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/result/unknown", nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.Code)
	}
}

func TestHealthExposesCircuitAndSlots(t *testing.T) {
	router := newTestRouter(&stubDetector{}, newStubStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %s", resp.Body.String())
	}
	if _, ok := body["circuit"]; !ok {
		t.Fatal("health body missing circuit snapshot")
	}
}

func TestUsageReportsBudgetRemaining(t *testing.T) {
	store := newStubStore()
	store.daily = 40
	router := newTestRouter(&stubDetector{}, store)

	req := httptest.NewRequest(http.MethodGet, "/metrics/usage", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		TodaySuccessful int64 `json:"today_successful"`
		BudgetRemaining int64 `json:"budget_remaining"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.TodaySuccessful != 40 || body.BudgetRemaining != 60 {
		t.Fatalf("unexpected usage body: %s", resp.Body.String())
	}
}
