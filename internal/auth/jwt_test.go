package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("classattend", "secret", time.Minute, time.Hour)
	pair, err := iss.Issue("u1")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := iss.Parse(pair.AccessToken, KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if _, err := iss.Parse(pair.RefreshToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh used as access: err = %v", err)
	}

	other := NewIssuer("classattend", "other-secret", time.Minute, time.Hour)
	if _, err := other.Parse(pair.AccessToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: err = %v", err)
	}
	foreign := NewIssuer("someone-else", "secret", time.Minute, time.Hour)
	if _, err := foreign.Parse(pair.AccessToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: err = %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	iss := NewIssuer("classattend", "secret", time.Minute, time.Hour)
	start := time.Now()
	iss.now = func() time.Time { return start }
	pair, err := iss.Issue("u1")
	if err != nil {
		t.Fatal(err)
	}
	iss.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := iss.Parse(pair.AccessToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: err = %v", err)
	}
	if _, err := iss.Refresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh still valid: %v", err)
	}
}

func TestUserAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := NewIssuer("classattend", "secret", time.Minute, time.Hour)
	pair, err := iss.Issue("u42")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/me", UserAuth(iss), func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	cases := []struct {
		header string
		code   int
		body   string
	}{
		{"", http.StatusUnauthorized, ""},
		{"Bearer garbage", http.StatusUnauthorized, ""},
		{"Bearer " + pair.RefreshToken, http.StatusUnauthorized, ""},
		{"Bearer " + pair.AccessToken, http.StatusOK, "u42"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.code || (tc.body != "" && w.Body.String() != tc.body) {
			t.Errorf("%q: got %d %q", tc.header, w.Code, w.Body.String())
		}
	}
}
