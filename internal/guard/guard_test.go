package guard

import (
	"testing"

	"github.com/hitoshi/packmart/internal/model"
)

func sessionWithRole(role model.Role) *model.Session {
	return &model.Session{
		Identity: model.Identity{ID: "u1", Email: "u@example.com"},
		Profile:  model.Profile{ID: "u1", Role: role},
	}
}

func TestEvaluate(t *testing.T) {
	buyer := sessionWithRole(model.RoleBuyer)
	supplier := sessionWithRole(model.RoleSupplier)

	tests := []struct {
		name     string
		sess     *model.Session
		role     model.Role
		expected Decision
	}{
		{"no session, no role", nil, "", Decision{RedirectTo: "/home"}},
		{"no session, supplier role", nil, model.RoleSupplier, Decision{RedirectTo: "/home"}},
		{"buyer, no role", buyer, "", Decision{Allowed: true}},
		{"buyer on supplier route", buyer, model.RoleSupplier, Decision{RedirectTo: "/home"}},
		{"supplier on buyer route", supplier, model.RoleBuyer, Decision{RedirectTo: "/home"}},
		{"supplier on supplier route", supplier, model.RoleSupplier, Decision{Allowed: true}},
		{"buyer on buyer route", buyer, model.RoleBuyer, Decision{Allowed: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.sess, tt.role); got != tt.expected {
				t.Errorf("Evaluate = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestStateOf(t *testing.T) {
	if s := StateOf(nil); s.Authenticated || s.String() != "unauthenticated" {
		t.Errorf("StateOf(nil) = %v", s)
	}
	s := StateOf(sessionWithRole(model.RoleSupplier))
	if !s.Authenticated || s.Role != model.RoleSupplier || s.String() != "authenticated(supplier)" {
		t.Errorf("StateOf(supplier) = %v", s)
	}
}

func TestNavigate(t *testing.T) {
	buyer := sessionWithRole(model.RoleBuyer)
	supplier := sessionWithRole(model.RoleSupplier)

	tests := []struct {
		name     string
		sess     *model.Session
		path     string
		allowed  bool
		redirect string
	}{
		{"public browse anonymous", nil, "/browse", true, ""},
		{"product detail anonymous", nil, "/browse/42", true, ""},
		{"messages anonymous", nil, "/messages", false, "/home"},
		{"messages buyer", buyer, "/messages", true, ""},
		{"buyer on supplier dashboard", buyer, "/dashboard", false, "/home"},
		{"supplier on buyer dashboard", supplier, "/buyer-dashboard/orders", false, "/home"},
		{"supplier dashboard analytics", supplier, "/dashboard/analytics/", true, ""},
		{"buyer saved products", buyer, "/buyer-dashboard/saved-products", true, ""},
		{"root redirects", buyer, "/", false, "/home"},
		{"unknown redirects", nil, "/nowhere", false, "/home"},
		{"query ignored", nil, "/browse?page=2", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Navigate(tt.sess, tt.path)
			if res.Decision.Allowed != tt.allowed || res.Decision.RedirectTo != tt.redirect {
				t.Errorf("Navigate(%q) = %+v", tt.path, res.Decision)
			}
		})
	}
}

// ログアウト後にロール限定ルートへ遷移するとリダイレクトされることを検証
func TestNavigate_AfterLogout(t *testing.T) {
	supplier := sessionWithRole(model.RoleSupplier)
	if !Navigate(supplier, "/dashboard").Decision.Allowed {
		t.Fatal("supplier should be allowed before logout")
	}
	var loggedOut *model.Session
	if res := Navigate(loggedOut, "/dashboard"); res.Decision.Allowed || res.Decision.RedirectTo != "/home" {
		t.Errorf("after logout = %+v", res.Decision)
	}
}

func TestSanitizeReturnTo(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/messages", "/messages"},
		{"/browse?category=Luxury+Boxes", "/browse?category=Luxury+Boxes"},
		{"/dashboard/../buyer-dashboard", "/buyer-dashboard"},
		{"https://evil.example.com/", ""},
		{"//evil.example.com", ""},
		{"/\\evil.example.com", ""},
		{"javascript:alert(1)", ""},
		{"messages", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeReturnTo(tt.in); got != tt.want {
			t.Errorf("SanitizeReturnTo(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDestinations(t *testing.T) {
	if got := LoginDestination(""); got != "/browse" {
		t.Errorf("LoginDestination = %q", got)
	}
	if got := LoginDestination("/messages"); got != "/messages" {
		t.Errorf("LoginDestination(return_to) = %q", got)
	}
	if got := SignupDestination(model.RoleSupplier, ""); got != "/dashboard" {
		t.Errorf("SignupDestination(supplier) = %q", got)
	}
	if got := SignupDestination(model.RoleBuyer, ""); got != "/browse" {
		t.Errorf("SignupDestination(buyer) = %q", got)
	}
}
