package endpoint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUnmarshalQueryAndHeader(t *testing.T) {
	type params struct {
		Name    string        `query:"name"`
		Count   int           `query:"count"`
		Verbose bool          `query:"verbose"`
		Wait    time.Duration `query:"wait"`
		Tags    []string      `query:"tag"`
		Trace   string        `header:"X-Trace-Id"`
	}

	req := httptest.NewRequest(http.MethodGet,
		"/?name=box&count=3&verbose=true&wait=250ms&tag=a&tag=b", nil)
	req.Header.Set("X-Trace-Id", "t-123")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "box" || p.Count != 3 || !p.Verbose {
		t.Errorf("got %+v", p)
	}
	if p.Wait != 250*time.Millisecond {
		t.Errorf("got wait %v, want 250ms", p.Wait)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "a" || p.Tags[1] != "b" {
		t.Errorf("got tags %v, want [a b]", p.Tags)
	}
	if p.Trace != "t-123" {
		t.Errorf("got trace %q, want t-123", p.Trace)
	}
}

func TestUnmarshalBody(t *testing.T) {
	type rawParams struct {
		Body []byte `body:""`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x":1}`))
	var rp rawParams
	if err := Unmarshal(req, &rp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(rp.Body) != `{"x":1}` {
		t.Errorf("got body %q", rp.Body)
	}

	type jsonParams struct {
		Doc struct {
			X int `json:"x"`
		} `body:",json"`
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x":7}`))
	var jp jsonParams
	if err := Unmarshal(req, &jp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if jp.Doc.X != 7 {
		t.Errorf("got x=%d, want 7", jp.Doc.X)
	}
}

func TestUnmarshalBadValues(t *testing.T) {
	type params struct {
		Count int `query:"count"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?count=notanumber", nil)
	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatal("expected error for bad int")
	}
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Errorf("got %v, want 400 EndpointError", err)
	}
}

func TestUnmarshalFieldLimit(t *testing.T) {
	type params struct {
		Short string `query:"short" maxLength:"4"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?short=overlong", nil)
	var p params
	if err := Unmarshal(req, &p); err == nil {
		t.Fatal("expected error for over-limit value")
	}

	req = httptest.NewRequest(http.MethodGet, "/?short=ok", nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Short != "ok" {
		t.Errorf("got %q, want ok", p.Short)
	}
}

func TestUnmarshalMissingDataLeavesZero(t *testing.T) {
	type params struct {
		Name string `query:"name"`
		Body []byte `body:""`
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "" || p.Body != nil {
		t.Errorf("got %+v, want zero values", p)
	}
}
