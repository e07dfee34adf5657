package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/facemesh"
	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/logging"
	"github.com/kdimtricp/smilegame/internal/models"
	"github.com/kdimtricp/smilegame/internal/round"
	"github.com/kdimtricp/smilegame/internal/storage"
)

type fakeRounds struct {
	mu     sync.Mutex
	rounds []models.Round
}

func (f *fakeRounds) Insert(ctx context.Context, r *models.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds = append(f.rounds, *r)
	return nil
}

func (f *fakeRounds) GetByID(ctx context.Context, id string) (*models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rounds {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("round %s: %w", id, database.ErrNotFound)
}

func (f *fakeRounds) List(ctx context.Context, mode string, limit int) ([]models.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Round
	for _, r := range f.rounds {
		if mode == "" || r.Mode == mode {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type testServer struct {
	*httptest.Server
	game       *game.Service
	rounds     *fakeRounds
	recordings *storage.LocalStorage
}

// survivalConfig plays smile rounds under the survival policy, so a single
// smiling frame followed by a lost face finishes a round.
func survivalConfig() game.Config {
	return game.Config{
		Record: true,
		Modes: map[highscore.Mode]round.Config{
			highscore.Smile: {Policy: round.Survival, RoundLength: 10 * time.Second, Threshold: 50, NoFaceFrames: 1},
		},
	}
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	return newGameTestServer(t, cfg, game.Config{Record: true})
}

func newGameTestServer(t *testing.T, cfg RouterConfig, gameCfg game.Config) *testServer {
	t.Helper()

	recordings, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	rounds := &fakeRounds{}

	svc := game.NewService(game.Dependencies{
		History:    rounds,
		Recordings: recordings,
		Logger:     logging.Discard(),
	}, gameCfg)

	app := &App{
		Game:       svc,
		Rounds:     rounds,
		Recordings: recordings,
		Logger:     logging.Discard(),
	}

	server := httptest.NewServer(NewRouter(app, cfg))
	t.Cleanup(func() {
		server.Close()
		svc.Shutdown()
	})

	return &testServer{Server: server, game: svc, rounds: rounds, recordings: recordings}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, data
}

func (s *testServer) createSession(t *testing.T, body string) game.SessionInfo {
	t.Helper()

	resp, data := s.do(t, http.MethodPost, "/api/v1/sessions", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, data)
	}
	var info game.SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	return info
}

func expectError(t *testing.T, resp *http.Response, data []byte, status int, errType string) {
	t.Helper()

	if resp.StatusCode != status {
		t.Fatalf("Expected status %d, got %d: %s", status, resp.StatusCode, data)
	}
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if body.Type != errType {
		t.Errorf("Expected error type %q, got %q (%s)", errType, body.Type, body.Message)
	}
}

const smilingFrame = `{"landmarks":[
	{"name":"mouthLeft","x":0,"y":100},
	{"name":"mouthRight","x":100,"y":100},
	{"name":"upperLip","x":50,"y":80},
	{"name":"lowerLip","x":50,"y":120}]}`

func TestPingHandler(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())

	resp, data := s.do(t, http.MethodGet, "/ping", "")
	if resp.StatusCode != http.StatusOK || string(data) != "pong" {
		t.Errorf("Expected 200 pong, got %d %q", resp.StatusCode, data)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())

	info := s.createSession(t, `{"mode":"smile"}`)
	if info.ID == "" || info.Detection != game.DetectClient || info.Snapshot.State != round.Idle {
		t.Fatalf("Unexpected session %+v", info)
	}
	base := "/api/v1/sessions/" + info.ID

	resp, data := s.do(t, http.MethodPost, base+"/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on start, got %d: %s", resp.StatusCode, data)
	}
	var snap round.Snapshot
	json.Unmarshal(data, &snap)
	if snap.State != round.Running || snap.RoundID == "" {
		t.Fatalf("Expected running round, got %+v", snap)
	}

	resp, data = s.do(t, http.MethodPost, base+"/start", "")
	expectError(t, resp, data, http.StatusConflict, ErrTypeConflict)

	resp, data = s.do(t, http.MethodPost, base+"/frames", smilingFrame)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on frame, got %d: %s", resp.StatusCode, data)
	}
	json.Unmarshal(data, &snap)
	if snap.Intensity != 100 || !snap.IsSmiling {
		t.Errorf("Expected a full smile, got %+v", snap)
	}

	resp, data = s.do(t, http.MethodPost, base+"/restart", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on restart, got %d: %s", resp.StatusCode, data)
	}
	first := snap.RoundID
	json.Unmarshal(data, &snap)
	if snap.RoundID == first {
		t.Error("Expected a new round id after restart")
	}

	stale := fmt.Sprintf(`{"roundId":%q,"noFace":true}`, first)
	resp, data = s.do(t, http.MethodPost, base+"/frames", stale)
	expectError(t, resp, data, http.StatusConflict, ErrTypeConflict)

	resp, data = s.do(t, http.MethodGet, base, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on get, got %d: %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), `"roundState":"running"`) {
		t.Errorf("Expected running snapshot, got %s", data)
	}

	resp, _ = s.do(t, http.MethodDelete, base, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204 on delete, got %d", resp.StatusCode)
	}

	resp, data = s.do(t, http.MethodGet, base, "")
	expectError(t, resp, data, http.StatusNotFound, ErrTypeNotFound)
}

func TestCreateSession_Invalid(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())

	tests := []struct {
		name string
		body string
	}{
		{"Missing mode", `{}`},
		{"Unknown mode", `{"mode":"frown"}`},
		{"Unknown detection", `{"mode":"smile","detection":"gpu"}`},
		{"Mode without rounds", `{"mode":"emoji"}`},
		{"Broken JSON", `{"mode":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, "/api/v1/sessions", tt.body)
			expectError(t, resp, data, http.StatusBadRequest, ErrTypeInvalidRequest)
		})
	}
}

func TestCreateSession_PolicyIsServerConfigured(t *testing.T) {
	s := newGameTestServer(t, DefaultRouterConfig(), survivalConfig())

	info := s.createSession(t, `{"mode":"smile","policy":"strict"}`)
	if info.Snapshot.Policy != round.Survival {
		t.Errorf("Expected configured survival policy, got %q", info.Snapshot.Policy)
	}

	resp, data := s.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/start", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"policy":"survival"`) {
		t.Errorf("Expected survival round, got %d %s", resp.StatusCode, data)
	}
}

func TestFrameHandler_Payloads(t *testing.T) {
	s := newGameTestServer(t, DefaultRouterConfig(), survivalConfig())
	info := s.createSession(t, `{"mode":"smile"}`)
	base := "/api/v1/sessions/" + info.ID

	s.do(t, http.MethodPost, base+"/start", "")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"No payload", `{}`, http.StatusBadRequest},
		{"Two payloads", `{"noFace":true,"image":"aGVsbG8="}`, http.StatusBadRequest},
		{"Bad base64", `{"image":"***"}`, http.StatusBadRequest},
		{"Image without model", `{"image":"aGVsbG8="}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, base+"/frames", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, resp.StatusCode, data)
			}
		})
	}

	mesh := make([][2]float64, 300)
	mesh[facemesh.MeshMouthLeft] = [2]float64{0, 100}
	mesh[facemesh.MeshMouthRight] = [2]float64{100, 100}
	mesh[facemesh.MeshUpperLip] = [2]float64{50, 80}
	mesh[facemesh.MeshLowerLip] = [2]float64{50, 120}
	body, _ := json.Marshal(FrameRequest{Mesh: mesh})

	resp, data := s.do(t, http.MethodPost, base+"/frames", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for mesh frame, got %d: %s", resp.StatusCode, data)
	}
	var snap round.Snapshot
	json.Unmarshal(data, &snap)
	if snap.Score != 100 {
		t.Errorf("Expected survival score 100, got %+v", snap)
	}

	resp, data = s.do(t, http.MethodPost, base+"/frames", `{"noFace":true}`)
	json.Unmarshal(data, &snap)
	if snap.State != round.Ended || snap.Reason != round.FaceLost {
		t.Errorf("Expected face lost, got %+v", snap)
	}

	resp, data = s.do(t, http.MethodPost, base+"/frames", `{"noFace":true}`)
	expectError(t, resp, data, http.StatusConflict, ErrTypeConflict)
}

func TestServerDetection_ModelUnavailable(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())
	info := s.createSession(t, `{"mode":"smile","detection":"server"}`)

	if info.ModelReady {
		t.Fatal("Expected model to be unavailable")
	}

	resp, data := s.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/start", "")
	expectError(t, resp, data, http.StatusServiceUnavailable, ErrTypeModelUnavailable)
}

func TestHighScoreHandlers(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())

	resp, data := s.do(t, http.MethodGet, "/api/v1/highscores/emoji", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"highScore":0`) {
		t.Fatalf("Expected empty high score, got %d %s", resp.StatusCode, data)
	}

	tests := []struct {
		score   int
		updated bool
		high    int
	}{
		{12, true, 12},
		{12, false, 12},
		{5, false, 12},
		{40, true, 40},
	}
	for _, tt := range tests {
		resp, data := s.do(t, http.MethodPost, "/api/v1/highscores/emoji", fmt.Sprintf(`{"score":%d}`, tt.score))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
		}
		var got HighScoreResponse
		json.Unmarshal(data, &got)
		if got.Updated == nil || *got.Updated != tt.updated || got.HighScore != tt.high {
			t.Errorf("score %d: expected updated=%v high=%d, got %s", tt.score, tt.updated, tt.high, data)
		}
	}

	resp, data = s.do(t, http.MethodPost, "/api/v1/highscores/emoji", `{"score":-1}`)
	expectError(t, resp, data, http.StatusBadRequest, ErrTypeInvalidRequest)

	resp, data = s.do(t, http.MethodGet, "/api/v1/highscores/tetris", "")
	expectError(t, resp, data, http.StatusNotFound, ErrTypeNotFound)
}

func TestRoundsAndRecording(t *testing.T) {
	s := newGameTestServer(t, DefaultRouterConfig(), survivalConfig())
	info := s.createSession(t, `{"mode":"smile"}`)
	base := "/api/v1/sessions/" + info.ID

	s.do(t, http.MethodPost, base+"/start", "")
	s.do(t, http.MethodPost, base+"/frames", smilingFrame)
	s.do(t, http.MethodPost, base+"/frames", `{"noFace":true}`)

	resp, data := s.do(t, http.MethodGet, "/api/v1/rounds?mode=smile&limit=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
	}
	var list struct {
		Rounds []models.Round `json:"rounds"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("Failed to decode rounds: %v", err)
	}
	if len(list.Rounds) != 1 {
		t.Fatalf("Expected 1 round, got %d", len(list.Rounds))
	}
	rec := list.Rounds[0]
	if rec.Reason != string(round.FaceLost) || rec.Score != 100 || rec.Recording == "" {
		t.Fatalf("Unexpected round %+v", rec)
	}

	resp, data = s.do(t, http.MethodGet, "/api/v1/rounds/"+rec.ID+"/recording", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Expected ndjson content type, got %q", ct)
	}
	samples, err := game.DecodeRecording(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode recording: %v", err)
	}
	if len(samples) < 2 || samples[0].Kind != "detected" || samples[len(samples)-1].Kind != "no_face" {
		t.Errorf("Unexpected samples %+v", samples)
	}

	resp, data = s.do(t, http.MethodGet, "/api/v1/rounds/missing/recording", "")
	expectError(t, resp, data, http.StatusNotFound, ErrTypeNotFound)

	resp, data = s.do(t, http.MethodGet, "/api/v1/rounds?limit=abc", "")
	expectError(t, resp, data, http.StatusBadRequest, ErrTypeInvalidRequest)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, RouterConfig{RequestRate: 0.001, RequestBurst: 2, FrameRate: 30, FrameBurst: 30})

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodGet, "/api/v1/highscores/smile", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp, data := s.do(t, http.MethodGet, "/api/v1/highscores/smile", "")
	expectError(t, resp, data, http.StatusTooManyRequests, ErrTypeRateLimited)

	resp, _ = s.do(t, http.MethodGet, "/ping", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Ping must not be rate limited, got %d", resp.StatusCode)
	}
}

func TestEventsHandler(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())
	info := s.createSession(t, `{"mode":"smile"}`)

	resp, err := http.Get(s.URL + "/api/v1/sessions/" + info.ID + "/events")
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %q", ct)
	}

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()

	next := func() (string, bool) {
		select {
		case e, ok := <-events:
			return e, ok
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for event")
			return "", false
		}
	}

	if e, _ := next(); e != game.UpdateState {
		t.Fatalf("Expected initial state event, got %q", e)
	}

	s.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/start", "")
	if e, _ := next(); e != game.UpdateState {
		t.Fatalf("Expected state event after start, got %q", e)
	}

	s.game.CloseSession(info.ID)
	for {
		if _, ok := next(); !ok {
			break
		}
	}
}

func TestWebSocketHandler(t *testing.T) {
	s := newTestServer(t, DefaultRouterConfig())
	info := s.createSession(t, `{"mode":"smile"}`)
	s.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/start", "")

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/sessions/" + info.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	read := func() wsMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		if kind != websocket.TextMessage {
			t.Fatalf("Expected a text message, got type %d", kind)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to decode %s: %v", data, err)
		}
		return msg
	}

	if msg := read(); msg.Type != game.UpdateState || msg.Snapshot.State != round.Running {
		t.Fatalf("Expected running state first, got %+v", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(smilingFrame)); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
	for {
		msg := read()
		if msg.Type == game.UpdateState && msg.Snapshot.IsSmiling {
			break
		}
		if msg.Type == "error" {
			t.Fatalf("Unexpected error %+v", msg.Error)
		}
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
	for {
		msg := read()
		if msg.Type == "error" {
			if msg.Error.Type != ErrTypeInvalidRequest {
				t.Errorf("Expected invalid_request, got %+v", msg.Error)
			}
			break
		}
	}

	conn.WriteMessage(websocket.BinaryMessage, []byte("jpeg"))
	for {
		msg := read()
		if msg.Type == "error" {
			if msg.Error.Type != ErrTypeModelUnavailable {
				t.Errorf("Expected model_unavailable, got %+v", msg.Error)
			}
			break
		}
	}
}
