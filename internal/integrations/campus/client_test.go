package campus

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"courtbot/internal/domain"
)

type staticPrompter string

func (p staticPrompter) PromptCode(ctx context.Context, maskedPhone string) (string, error) {
	return string(p), nil
}

type platformFake struct {
	key     *rsa.PrivateKey
	mux     *http.ServeMux
	hops    int32
	bookFn  func(w http.ResponseWriter, r *http.Request)
	loginFn func(w http.ResponseWriter, r *http.Request)
	phone   bool
}

func newPlatformFake(t *testing.T) *platformFake {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &platformFake{key: key, mux: http.NewServeMux()}

	f.mux.HandleFunc("/token/jwt/publicKey", func(w http.ResponseWriter, r *http.Request) {
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			t.Fatalf("marshal key: %v", err)
		}
		_ = pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
	})
	f.mux.HandleFunc("/token/mfa/detect", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{
			"data": map[string]interface{}{"state": "mfa-state-1", "need": f.phone},
		})
	})
	f.mux.HandleFunc("/token/mfa/initByType/securephone", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{
			"data": map[string]interface{}{"gid": "gid-1", "securePhone": "133****0001"},
		})
	})
	f.mux.HandleFunc("/attest/api/guard/securephone/send", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"code": 0})
	})
	f.mux.HandleFunc("/attest/api/guard/securephone/valid", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "246810" || body["gid"] != "gid-1" {
			writeBody(w, map[string]interface{}{"code": 1, "message": "bad code"})
			return
		}
		writeBody(w, map[string]interface{}{"code": 0})
	})
	f.mux.HandleFunc("/token/password/passwordLogin", func(w http.ResponseWriter, r *http.Request) {
		if f.loginFn != nil {
			f.loginFn(w, r)
			return
		}
		q := r.URL.Query()
		if !strings.HasPrefix(q.Get("username"), "__RSA__") || !strings.HasPrefix(q.Get("password"), "__RSA__") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if q.Get("appId") != "com.supwisdom.xjtu" || q.Get("mfaState") != "mfa-state-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeBody(w, map[string]interface{}{
			"data": map[string]interface{}{"idToken": "id-token-1", "refreshToken": "refresh-1"},
		})
	})
	f.mux.HandleFunc("/openplatform/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-id-token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&f.hops, 1)
		http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "sess-1", Path: "/"})
	})
	f.mux.HandleFunc("/gen", func(w http.ResponseWriter, r *http.Request) {
		bg, slider := puzzleImages()
		writeBody(w, map[string]interface{}{
			"id": 90210,
			"captcha": map[string]interface{}{
				"backgroundImage":       bg,
				"sliderImage":           slider,
				"backgroundImageWidth":  120,
				"backgroundImageHeight": 60,
				"sliderImageWidth":      40,
				"sliderImageHeight":     60,
			},
		})
	})
	f.mux.HandleFunc("/web/order/tobook.html", func(w http.ResponseWriter, r *http.Request) {
		if f.bookFn != nil {
			f.bookFn(w, r)
			return
		}
		writeBody(w, map[string]interface{}{"result": "1", "message": "ok",
			"object": map[string]interface{}{"order": map[string]interface{}{"orderid": "ORD-1", "userid": "u1", "status": 1}}})
	})
	return f
}

func writeBody(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func puzzleImages() (bg, slider string) {
	bgImg := image.NewGray(image.Rect(0, 0, 120, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 120; x++ {
			bgImg.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	for y := 20; y < 36; y++ {
		for x := 80; x < 96; x++ {
			bgImg.SetGray(x, y, color.Gray{Y: 30})
		}
	}
	slImg := image.NewGray(image.Rect(0, 0, 40, 60))
	for y := 20; y < 36; y++ {
		for x := 10; x < 26; x++ {
			slImg.SetGray(x, y, color.Gray{Y: 220})
		}
	}
	return encodePNG(bgImg), encodePNG(slImg)
}

func encodePNG(img image.Image) string {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestClient(t *testing.T, f *platformFake) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	client, err := NewClient(context.Background(), "user1", "hunter2", Options{
		Endpoints: EndpointsFor(srv.URL, srv.URL, srv.URL, "http://pay.marker"),
		Prompter:  staticPrompter("246810"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

func TestLoginAndHop(t *testing.T) {
	client, _ := newTestClient(t, newPlatformFake(t))
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
	id, refresh := client.tokens()
	if id != "id-token-1" || refresh != "refresh-1" {
		t.Fatalf("unexpected token pair %q/%q", id, refresh)
	}
	if err := client.Hop(context.Background()); err != nil {
		t.Fatalf("expected hop to succeed, got %v", err)
	}
}

func TestLogin_PhoneChallenge(t *testing.T) {
	f := newPlatformFake(t)
	f.phone = true
	client, _ := newTestClient(t, f)
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("expected phone-challenge login to succeed, got %v", err)
	}
}

func TestLogin_BadCredentialsLeavesNoToken(t *testing.T) {
	f := newPlatformFake(t)
	f.loginFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	client, _ := newTestClient(t, f)
	err := client.Login(context.Background())
	if !errors.Is(err, domain.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if id, _ := client.tokens(); id != "" {
		t.Fatalf("expected no token after failed login, got %q", id)
	}
}

func TestLogin_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrMFANotSatisfied},
		{http.StatusForbidden, domain.ErrBlocked},
		{http.StatusBadGateway, domain.ErrUpstream},
	}
	for _, tc := range cases {
		f := newPlatformFake(t)
		status := tc.status
		f.loginFn = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}
		client, _ := newTestClient(t, f)
		if err := client.Login(context.Background()); !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestHop_RequiresLogin(t *testing.T) {
	client, _ := newTestClient(t, newPlatformFake(t))
	if err := client.Hop(context.Background()); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestSlots_RejectsBadDateBeforeNetwork(t *testing.T) {
	f := newPlatformFake(t)
	var hits int32
	f.mux.HandleFunc("/web/product/findOkArea.html", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeBody(w, map[string]interface{}{"object": nil})
	})
	client, _ := newTestClient(t, f)
	for _, date := range []string{"2026/09/01", "2026-13-01", "2026-09-32", "tomorrow", "26-09-01"} {
		if _, err := client.Slots(context.Background(), "23", date); !errors.Is(err, domain.ErrInvalidDate) {
			t.Fatalf("date %q: expected ErrInvalidDate, got %v", date, err)
		}
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no network calls for invalid dates, got %d", hits)
	}
}

func TestSlots_EmptyPayloadIsEmptySlice(t *testing.T) {
	f := newPlatformFake(t)
	f.mux.HandleFunc("/web/product/findOkArea.html", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"object": nil})
	})
	client, _ := newTestClient(t, f)
	slots, err := client.Slots(context.Background(), "23", "2026-09-01")
	if err != nil {
		t.Fatalf("expected empty result, got error %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestVenues_ParsesList(t *testing.T) {
	f := newPlatformFake(t)
	f.mux.HandleFunc("/web/product/productData.html", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("rows") != "100" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeBody(w, []map[string]interface{}{
			{"id": 23, "name": "羽毛球馆", "advanceday": 3, "advancenum": 2, "status": 1, "image": "a.jpg"},
		})
	})
	client, _ := newTestClient(t, f)
	venues, err := client.Venues(context.Background())
	if err != nil {
		t.Fatalf("expected venue list, got %v", err)
	}
	if len(venues) != 1 || venues[0].ID != "23" {
		t.Fatalf("unexpected venues %+v", venues)
	}
	if !strings.HasSuffix(venues[0].ImageURL, "/web/upload/image/a.jpg") {
		t.Fatalf("expected prefixed image url, got %q", venues[0].ImageURL)
	}
}

func TestBook_Success(t *testing.T) {
	f := newPlatformFake(t)
	var sawToken, sawParam bool
	f.bookFn = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		yzm := r.PostForm.Get("yzm")
		if strings.Contains(yzm, "synjones90210synjoneshttp://pay.marker") {
			sawToken = true
		}
		var param map[string]interface{}
		if err := json.Unmarshal([]byte(r.PostForm.Get("param")), &param); err == nil {
			detail, _ := param["stockdetail"].(map[string]interface{})
			if detail["555"] == "42" && param["address"] == "23" {
				sawParam = true
			}
		}
		writeBody(w, map[string]interface{}{"result": "1", "message": "ok",
			"object": map[string]interface{}{"order": map[string]interface{}{"orderid": "ORD-9", "userid": "u1", "status": 1}}})
	}
	client, _ := newTestClient(t, f)
	order, code, err := client.Book(context.Background(), "23", 42, 555)
	if err != nil || code != domain.ResultSuccess {
		t.Fatalf("expected success, got code=%d err=%v", code, err)
	}
	if order == nil || order.OrderID != "ORD-9" {
		t.Fatalf("unexpected order %+v", order)
	}
	if !sawToken {
		t.Fatal("pay token missing from yzm payload")
	}
	if !sawParam {
		t.Fatal("stockdetail/address missing from param payload")
	}
}

func TestBook_UnpaidCountsAsSuccess(t *testing.T) {
	f := newPlatformFake(t)
	f.bookFn = func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"result": "0", "message": "未支付"})
	}
	client, _ := newTestClient(t, f)
	_, code, err := client.Book(context.Background(), "23", 42, 555)
	if err != nil || code != domain.ResultSuccess {
		t.Fatalf("expected unpaid to count as success, got code=%d err=%v", code, err)
	}
}

func TestBook_MissingResultMeansExpiredSession(t *testing.T) {
	f := newPlatformFake(t)
	f.bookFn = func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]interface{}{"message": "please login"})
	}
	client, _ := newTestClient(t, f)
	_, code, err := client.Book(context.Background(), "23", 42, 555)
	if err != nil || code != domain.ResultNotAuthed {
		t.Fatalf("expected ResultNotAuthed, got code=%d err=%v", code, err)
	}
}

func TestBook_PuzzleFetchFailureIsRetryable(t *testing.T) {
	f := newPlatformFake(t)
	client, srv := newTestClient(t, f)
	client.ep.CaptchaURL = srv.URL + "/nonexistent-gen"
	_, code, err := client.Book(context.Background(), "23", 42, 555)
	if err != nil || code != domain.ResultPuzzleRejected {
		t.Fatalf("expected puzzle-rejected code, got code=%d err=%v", code, err)
	}
}
