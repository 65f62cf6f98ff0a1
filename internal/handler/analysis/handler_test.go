package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/political-reasoner/backend/internal/analysis/normalize"
	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/service/completion"
	"github.com/political-reasoner/backend/internal/service/prompt"
	"github.com/political-reasoner/backend/internal/service/reasoner"
)

const analysisReply = `{"sentiment": {"label": "negative", "score": 0.3}, "topics": ["fuel subsidy"], "entities": [{"name": "DPR", "kind": "party"}], "key_issues": ["rising prices"], "bias_detected": true, "public_impact": "high"}`

type kindCompleter struct {
	mu      sync.Mutex
	replies map[prompt.Kind]string
	errs    map[prompt.Kind]error
	kinds   []prompt.Kind
}

func (k *kindCompleter) Complete(_ context.Context, p prompt.Prompt, _ completion.Params) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kinds = append(k.kinds, p.Kind)
	if err := k.errs[p.Kind]; err != nil {
		return "", err
	}
	return k.replies[p.Kind], nil
}

func (k *kindCompleter) calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.kinds)
}

func defaultReplies() map[prompt.Kind]string {
	return map[prompt.Kind]string{
		prompt.KindAnalysis:  analysisReply,
		prompt.KindNarrative: "Fuel prices are rising and parliament is under pressure.",
		prompt.KindPolicy:    `{"recommendations": ["Target subsidies"], "stakeholders": ["Ministry of Finance"]}`,
	}
}

func setupRouter(t *testing.T, stub *kindCompleter) *chi.Mux {
	t.Helper()
	builder, err := prompt.NewBuilder(context.Background(), 1000, 10)
	if err != nil {
		t.Fatalf("NewBuilder err: %v", err)
	}
	table, err := normalize.DefaultTable()
	if err != nil {
		t.Fatalf("DefaultTable err: %v", err)
	}
	svc := reasoner.NewService(builder, stub, normalize.New(table), completion.Overrides{})

	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestAnalyze(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	resp := post(r, "/analyze", `{"text": "Fuel prices went up again this month."}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	body := decode(t, resp)
	result, ok := body["analysis"].(map[string]any)
	if !ok {
		t.Fatalf("missing analysis in %v", body)
	}
	if result["sentiment"] != "negative" || result["parse_mode"] != "structured" {
		t.Fatalf("unexpected analysis %v", result)
	}
	if result["id"] == "" || result["raw_model_text"] == "" {
		t.Fatalf("expected id and raw text in %v", result)
	}
	if _, ok := body["key_insights"].(map[string]any); !ok {
		t.Fatalf("missing key insights in %v", body)
	}
}

func TestAnalyzeInvalidInput(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	for name, body := range map[string]string{
		"empty":     `{"text": ""}`,
		"blank":     `{"text": "  \n "}`,
		"too long":  `{"text": "` + strings.Repeat("a", 1001) + `"}`,
		"malformed": `not json`,
	} {
		resp := post(r, "/analyze", body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
		if got := decode(t, resp)["code"]; got != "invalid_input" {
			t.Fatalf("%s: unexpected code %v", name, got)
		}
	}
	if stub.calls() != 0 {
		t.Fatalf("expected no completion calls, got %d", stub.calls())
	}
}

func TestAnalyzeUpstreamStatusMapping(t *testing.T) {
	cases := []struct {
		kind   apperr.Kind
		status int
	}{
		{apperr.UpstreamTimeout, http.StatusGatewayTimeout},
		{apperr.UpstreamRateLimited, http.StatusTooManyRequests},
		{apperr.UpstreamError, http.StatusBadGateway},
		{apperr.Canceled, 499},
	}

	for _, tc := range cases {
		stub := &kindCompleter{errs: map[prompt.Kind]error{
			prompt.KindAnalysis: apperr.Wrap(tc.kind, "completion.Complete", errors.New("provider said no: secret-detail")),
		}}
		r := setupRouter(t, stub)

		resp := post(r, "/analyze", `{"text": "Some text"}`)
		if resp.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.kind, tc.status, resp.Code)
		}
		body := decode(t, resp)
		if body["code"] != string(tc.kind) {
			t.Fatalf("%s: unexpected code %v", tc.kind, body["code"])
		}
		if strings.Contains(resp.Body.String(), "secret-detail") {
			t.Fatalf("%s: provider detail leaked: %s", tc.kind, resp.Body.String())
		}
	}
}

func TestCompleteAnalysis(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	resp := post(r, "/complete-analysis", `{"text": "Fuel prices went up.", "policy_context": "energy reform"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	for _, key := range []string{"analysis", "key_insights", "narrative", "policy_recommendations"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing %s in %v", key, body)
		}
	}
	if _, ok := body["policy_error"]; ok {
		t.Fatalf("unexpected policy_error in %v", body)
	}
}

func TestCompleteAnalysisReportsPolicyError(t *testing.T) {
	stub := &kindCompleter{
		replies: defaultReplies(),
		errs: map[prompt.Kind]error{
			prompt.KindPolicy: apperr.Wrap(apperr.UpstreamRateLimited, "completion.Complete", errors.New("429")),
		},
	}
	r := setupRouter(t, stub)

	resp := post(r, "/complete-analysis", `{"text": "Fuel prices went up.", "policy_context": "energy reform"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decode(t, resp)
	policyErr, ok := body["policy_error"].(map[string]any)
	if !ok || policyErr["code"] != string(apperr.UpstreamRateLimited) {
		t.Fatalf("expected policy_error, got %v", body)
	}
	if _, ok := body["policy_recommendations"]; ok {
		t.Fatalf("unexpected policy_recommendations in %v", body)
	}
}

func TestCompleteAnalysisStream(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	resp := post(r, "/complete-analysis/stream", `{"text": "Fuel prices went up.", "policy_context": "energy reform"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := eventNames(resp.Body.String())
	want := []string{"analysis", "narrative", "recommendations", "end"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, events)
	}
}

func TestCompleteAnalysisStreamErrors(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	resp := post(r, "/complete-analysis/stream", `{"text": ""}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before streaming, got %d", resp.Code)
	}

	stub = &kindCompleter{
		replies: defaultReplies(),
		errs: map[prompt.Kind]error{
			prompt.KindNarrative: apperr.Wrap(apperr.UpstreamTimeout, "completion.Complete", errors.New("deadline")),
		},
	}
	r = setupRouter(t, stub)

	resp = post(r, "/complete-analysis/stream", `{"text": "Fuel prices went up."}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	events := eventNames(resp.Body.String())
	want := []string{"analysis", "error", "end"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	if !strings.Contains(resp.Body.String(), string(apperr.UpstreamTimeout)) {
		t.Fatalf("error event missing code: %s", resp.Body.String())
	}
}

func TestGenerateNarrative(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	resp := post(r, "/generate-narrative", `{"analysis": {"id": "abc", "sentiment": "negative", "topics": ["fuel subsidy"]}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	if body["based_on"] != "abc" {
		t.Fatalf("unexpected based_on %v", body["based_on"])
	}
	if body["narrative"] != "Fuel prices are rising and parliament is under pressure." {
		t.Fatalf("unexpected narrative %v", body["narrative"])
	}

	for _, payload := range []string{`{}`, `{"analysis": {}}`} {
		resp = post(r, "/generate-narrative", payload)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", payload, resp.Code)
		}
	}
}

func TestPolicyRecommendations(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)

	resp := post(r, "/policy-recommendations", `{"text": "Fuel prices went up.", "issue": "subsidy targeting"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	body := decode(t, resp)
	if body["issue"] != "subsidy targeting" {
		t.Fatalf("unexpected issue %v", body["issue"])
	}
	recs, ok := body["recommendations"].([]any)
	if !ok || len(recs) != 1 || recs[0] != "Target subsidies" {
		t.Fatalf("unexpected recommendations %v", body["recommendations"])
	}

	resp = post(r, "/policy-recommendations", `{"issue": "anything"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without text or analysis, got %d", resp.Code)
	}
}

func eventNames(stream string) []string {
	var names []string
	for _, line := range strings.Split(stream, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestInvalidInputMakesNoCompletionCall(t *testing.T) {
	stub := &kindCompleter{replies: defaultReplies()}
	r := setupRouter(t, stub)
	oversized := strings.Repeat("b", 1001)

	cases := []struct {
		path string
		body string
	}{
		{"/complete-analysis", `{"text": ""}`},
		{"/complete-analysis", `{"text": "Valid", "policy_context": "` + oversized + `"}`},
		{"/complete-analysis/stream", `{"text": "` + oversized + `"}`},
		{"/policy-recommendations", `{"text": "` + oversized + `"}`},
		{"/policy-recommendations", `{"text": "Valid", "issue": "` + oversized + `"}`},
	}
	for _, tc := range cases {
		resp := post(r, tc.path, tc.body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.path, resp.Code)
		}
	}
	if stub.calls() != 0 {
		t.Fatalf("expected no completion calls, got %d", stub.calls())
	}
}
