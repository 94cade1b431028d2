package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"testing"

	"github.com/maziarzamani/spaceduck-sub000/internal/attachments"
	"github.com/maziarzamani/spaceduck-sub000/internal/auth"
	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/httpapi"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
	"github.com/maziarzamani/spaceduck-sub000/internal/tools"
)

var testMasterKey = bytes.Repeat([]byte{0x42}, 32)

func newTestServer(t *testing.T) (*httptest.Server, *config.Store) {
	t.Helper()

	dir := t.TempDir()
	cfgStore, err := config.New(dir, testMasterKey)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	f, err := os.CreateTemp(dir, "gateway-test-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()
	db, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	attach, err := attachments.New(db, t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("attachments.New: %v", err)
	}

	srv := httpapi.New("127.0.0.1:0", httpapi.Deps{
		Config:      cfgStore,
		Auth:        auth.New(db),
		DB:          db,
		Attachments: attach,
		Provider:    provider.NewSwappable(provider.Unconfigured{}),
		Embedding:   provider.NewSwappableEmbedding(provider.NoopEmbedding{}),
		Tools:       tools.NewSwappable(tools.New()),
		STT:         stt.NewSwappable(stt.Unconfigured{}),
		GatewayID:   "gw-test",
		GatewayName: "spaceduck-test",
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, cfgStore
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

var codePattern = regexp.MustCompile(`id="code">(\d{6})<`)

func readPairingCode(t *testing.T, baseURL string) string {
	t.Helper()
	resp, err := http.Get(baseURL + "/pair")
	if err != nil {
		t.Fatalf("GET /pair: %v", err)
	}
	defer resp.Body.Close()
	html, _ := io.ReadAll(resp.Body)
	m := codePattern.FindSubmatch(html)
	if m == nil {
		t.Fatalf("no pairing code in /pair HTML: %s", html)
	}
	return string(m[1])
}

func TestPairingHappyPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, start := postJSON(t, ts.URL+"/api/pair/start", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pair/start status = %d", resp.StatusCode)
	}
	pairingID, _ := start["pairingId"].(string)
	if pairingID == "" {
		t.Fatalf("pair/start returned no pairingId: %v", start)
	}

	code := readPairingCode(t, ts.URL)

	resp, confirm := postJSON(t, ts.URL+"/api/pair/confirm", map[string]any{
		"pairingId": pairingID, "code": code, "deviceName": "test-device",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pair/confirm status = %d, body %v", resp.StatusCode, confirm)
	}
	token, _ := confirm["token"].(string)
	if token == "" {
		t.Fatalf("pair/confirm returned no token: %v", confirm)
	}
	if confirm["gatewayId"] != "gw-test" {
		t.Errorf("gatewayId = %v, want gw-test", confirm["gatewayId"])
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/gateway/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	infoResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/gateway/info: %v", err)
	}
	defer infoResp.Body.Close()
	if infoResp.StatusCode != http.StatusOK {
		t.Fatalf("gateway/info with token status = %d", infoResp.StatusCode)
	}

	// Same request without a token must be rejected.
	noAuth, err := http.Get(ts.URL + "/api/gateway/info")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	noAuth.Body.Close()
	if noAuth.StatusCode != http.StatusUnauthorized {
		t.Errorf("gateway/info without token status = %d, want 401", noAuth.StatusCode)
	}
}

func TestPairingWrongCodeRateLimit(t *testing.T) {
	ts, _ := newTestServer(t)

	_, start := postJSON(t, ts.URL+"/api/pair/start", map[string]any{})
	pairingID := start["pairingId"].(string)
	realCode := readPairingCode(t, ts.URL)

	wrong := "000000"
	if wrong == realCode {
		wrong = "000001"
	}

	for i := 0; i < 5; i++ {
		resp, body := postJSON(t, ts.URL+"/api/pair/confirm", map[string]any{
			"pairingId": pairingID, "code": wrong,
		})
		if resp.StatusCode != http.StatusUnauthorized || body["error"] != "wrong_code" {
			t.Fatalf("attempt %d: status = %d error = %v, want 401 wrong_code", i+1, resp.StatusCode, body["error"])
		}
	}

	// Even the real code is refused once the cap is hit.
	resp, body := postJSON(t, ts.URL+"/api/pair/confirm", map[string]any{
		"pairingId": pairingID, "code": realCode,
	})
	if resp.StatusCode != http.StatusTooManyRequests || body["error"] != "rate_limited" {
		t.Fatalf("post-cap confirm: status = %d error = %v, want 429 rate_limited", resp.StatusCode, body["error"])
	}
}

func pairedClient(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	_, start := postJSON(t, ts.URL+"/api/pair/start", map[string]any{})
	code := readPairingCode(t, ts.URL)
	_, confirm := postJSON(t, ts.URL+"/api/pair/confirm", map[string]any{
		"pairingId": start["pairingId"], "code": code,
	})
	token, _ := confirm["token"].(string)
	if token == "" {
		t.Fatalf("pairing for test client failed: %v", confirm)
	}
	return token
}

func doPatch(t *testing.T, ts *httptest.Server, token, rev string, ops []map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(ops)
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/config", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if rev != "" {
		req.Header.Set("If-Match", rev)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH /api/config: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestConfigPatchConflict(t *testing.T) {
	ts, cfgStore := newTestServer(t)
	token := pairedClient(t, ts)

	rev0 := cfgStore.Rev()

	resp, body := doPatch(t, ts, token, rev0, []map[string]any{
		{"op": "replace", "path": "/gateway/name", "value": "first-writer"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first PATCH status = %d body %v", resp.StatusCode, body)
	}
	rev1, _ := body["rev"].(string)
	if rev1 == "" || rev1 == rev0 {
		t.Fatalf("first PATCH rev = %q (rev0 %q)", rev1, rev0)
	}
	if got := resp.Header.Get("ETag"); got != rev1 {
		t.Errorf("ETag = %q, want %q", got, rev1)
	}

	// A second writer still holding rev0 must conflict and learn rev1.
	resp, body = doPatch(t, ts, token, rev0, []map[string]any{
		{"op": "replace", "path": "/ai/model", "value": "gpt-4o"},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale PATCH status = %d, want 409", resp.StatusCode)
	}
	if body["error"] != "CONFLICT" || body["rev"] != rev1 {
		t.Errorf("stale PATCH body = %v, want CONFLICT with rev %q", body, rev1)
	}
}

func TestConfigPatchRequiresIfMatch(t *testing.T) {
	ts, _ := newTestServer(t)
	token := pairedClient(t, ts)

	resp, body := doPatch(t, ts, token, "", []map[string]any{
		{"op": "replace", "path": "/gateway/name", "value": "x"},
	})
	if resp.StatusCode != http.StatusPreconditionRequired {
		t.Fatalf("PATCH without If-Match status = %d, want 428 (%v)", resp.StatusCode, body)
	}
	if body["error"] != "MISSING_IF_MATCH" {
		t.Errorf("error = %v, want MISSING_IF_MATCH", body["error"])
	}
}

func TestConfigGetSetsETagAndRedacts(t *testing.T) {
	ts, cfgStore := newTestServer(t)
	token := pairedClient(t, ts)

	if err := cfgStore.SetSecret("/ai/secrets/apiKey", "sk-super-secret"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/config", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/config: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("ETag"); got != cfgStore.Rev() {
		t.Errorf("ETag = %q, want %q", got, cfgStore.Rev())
	}

	raw, _ := io.ReadAll(resp.Body)
	if bytes.Contains(raw, []byte("sk-super-secret")) {
		t.Fatalf("config response leaked a secret value: %s", raw)
	}

	var body struct {
		Secrets []config.SecretEntry `json:"secrets"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, e := range body.Secrets {
		if e.Path == "/ai/secrets/apiKey" {
			found = true
			if !e.IsSet {
				t.Errorf("secret %s reported unset", e.Path)
			}
		}
	}
	if !found {
		t.Errorf("secret listing missing /ai/secrets/apiKey: %v", body.Secrets)
	}
}

func TestHealthAndPublicInfoUnauthenticated(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/api/health", "/api/capabilities", "/api/system/profile", "/api/gateway/public-info"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestTaskLifecycleOverREST(t *testing.T) {
	ts, _ := newTestServer(t)
	token := pairedClient(t, ts)

	client := func(method, path string, body any) (*http.Response, map[string]any) {
		var rd io.Reader
		if body != nil {
			raw, _ := json.Marshal(body)
			rd = bytes.NewReader(raw)
		}
		req, _ := http.NewRequest(method, ts.URL+path, rd)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		var decoded map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
		return resp, decoded
	}

	resp, created := client(http.MethodPost, "/api/tasks", map[string]any{
		"definition":    "summarize the day",
		"scheduleKind":  "interval",
		"scheduleValue": "1h",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task status = %d body %v", resp.StatusCode, created)
	}
	id := created["id"].(string)

	resp, listed := client(http.MethodGet, "/api/tasks?status=scheduled", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status = %d", resp.StatusCode)
	}
	if tasks, _ := listed["tasks"].([]any); len(tasks) != 1 {
		t.Fatalf("listed tasks = %v, want exactly the created one", listed)
	}

	// Retry is only legal from failed/dead_letter.
	resp, _ = client(http.MethodPost, fmt.Sprintf("/api/tasks/%s/retry", id), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("retry of scheduled task status = %d, want 409", resp.StatusCode)
	}

	resp, _ = client(http.MethodGet, "/api/tasks/budget", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("tasks/budget status = %d, want 200", resp.StatusCode)
	}

	resp, _ = client(http.MethodDelete, "/api/tasks/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete task status = %d, want 200", resp.StatusCode)
	}
	resp, _ = client(http.MethodGet, "/api/tasks/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted task status = %d, want 404", resp.StatusCode)
	}
}
