package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kvmshare/internal/protocol"
)

type fakeSource struct {
	status   Status
	switched []protocol.Slot
	released int
	fail     bool
}

func (f *fakeSource) Status() Status { return f.status }

func (f *fakeSource) SwitchTo(slot protocol.Slot) error {
	if f.fail {
		return errors.New("not now")
	}
	f.switched = append(f.switched, slot)
	return nil
}

func (f *fakeSource) ReturnToLocal() error {
	f.released++
	return nil
}

func newTestServer(source *fakeSource, token string) *httptest.Server {
	s := NewServer(source, token)
	return httptest.NewServer(s.handler())
}

func TestStatusEndpoint(t *testing.T) {
	source := &fakeSource{status: Status{
		Role:  "server",
		State: "forwarding",
		Sessions: []SessionInfo{
			{Slot: protocol.SlotRight, Addr: "10.0.0.2:50506", ScreenWidth: 1920, ScreenHeight: 1080},
		},
	}}
	ts := newTestServer(source, "")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Role != "server" || got.State != "forwarding" {
		t.Errorf("unexpected status payload: %+v", got)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].Slot != protocol.SlotRight {
		t.Errorf("sessions not surfaced: %+v", got.Sessions)
	}
}

func TestAuthRequiredWhenTokenSet(t *testing.T) {
	ts := newTestServer(&fakeSource{}, "sekrit")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request got %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated request got %d, want 200", resp.StatusCode)
	}

	// health stays open for monitoring
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health got %d, want 200", resp.StatusCode)
	}
}

func TestSwitchEndpoint(t *testing.T) {
	source := &fakeSource{}
	ts := newTestServer(source, "")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/switch?slot=right", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch got %d, want 200", resp.StatusCode)
	}
	if len(source.switched) != 1 || source.switched[0] != protocol.SlotRight {
		t.Errorf("switch not forwarded to source: %v", source.switched)
	}

	resp, err = http.Post(ts.URL+"/api/switch?slot=sideways", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad slot got %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/switch?slot=right")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET switch got %d, want 405", resp.StatusCode)
	}
}

func TestSwitchConflictSurfaced(t *testing.T) {
	source := &fakeSource{fail: true}
	ts := newTestServer(source, "")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/switch?slot=left", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("failed switch got %d, want 409", resp.StatusCode)
	}
}

func TestReleaseEndpoint(t *testing.T) {
	source := &fakeSource{}
	ts := newTestServer(source, "")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/release", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release got %d, want 200", resp.StatusCode)
	}
	if source.released != 1 {
		t.Errorf("release forwarded %d times, want 1", source.released)
	}
}
