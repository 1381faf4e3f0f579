package validation

import (
	"errors"
	"testing"

	"github.com/hitoshi/packmart/internal/model"
)

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *model.ValidationError, got %T (%v)", err, err)
	}
	return verr.Fields
}

func TestSignup_SupplierRequiresCompanyName(t *testing.T) {
	err := Signup(SignupInput{Email: "s@example.com", Password: "secret1", Role: "supplier", CompanyName: "   "})
	fields := fieldsOf(t, err)
	if _, ok := fields["company_name"]; !ok {
		t.Errorf("expected company_name error, got %v", fields)
	}
}

func TestSignup_BuyerWithoutCompanyNameIsValid(t *testing.T) {
	if err := Signup(SignupInput{Email: "b@example.com", Password: "secret1", Role: "buyer"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSignup_SupplierWithCompanyNameIsValid(t *testing.T) {
	if err := Signup(SignupInput{Email: "s@example.com", Password: "secret1", Role: "supplier", CompanyName: "Acme Boxes"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSignup_EmailShape(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"user@example.com", true},
		{"a@b.c", true},
		{"user@example", false},
		{"user example@example.com", false},
		{"@example.com", false},
		{"user@@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := Signup(SignupInput{Email: tt.email, Password: "secret1", Role: "buyer"})
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid {
				if _, ok := fieldsOf(t, err)["email"]; !ok {
					t.Errorf("expected email error")
				}
			}
		})
	}
}

func TestSignup_PasswordLength(t *testing.T) {
	err := Signup(SignupInput{Email: "b@example.com", Password: "12345", Role: "buyer"})
	if _, ok := fieldsOf(t, err)["password"]; !ok {
		t.Error("expected password error for 5 characters")
	}
	if err := Signup(SignupInput{Email: "b@example.com", Password: "123456", Role: "buyer"}); err != nil {
		t.Errorf("6 characters should be valid: %v", err)
	}
}

func TestSignup_InvalidRole(t *testing.T) {
	err := Signup(SignupInput{Email: "b@example.com", Password: "secret1", Role: "admin"})
	if _, ok := fieldsOf(t, err)["role"]; !ok {
		t.Error("expected role error")
	}
}

func TestLogin_RequiresFields(t *testing.T) {
	fields := fieldsOf(t, Login(LoginInput{}))
	if len(fields) != 2 {
		t.Errorf("expected email and password errors, got %v", fields)
	}
}

func TestProduct_Rules(t *testing.T) {
	valid := ProductInput{
		Name: "Kraft Mailer", Description: "Recyclable", Price: 1.25,
		Category: "Mailer Boxes", MinOrderQty: 100, HasImage: true,
	}
	if err := Product(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invalid := valid
	invalid.Price = 0
	invalid.MinOrderQty = -1
	invalid.Category = "Pallets"
	invalid.HasImage = false
	invalid.Name = "  "
	fields := fieldsOf(t, Product(invalid))
	for _, key := range []string{"price", "min_order_qty", "category", "image", "name"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected %s error, got %v", key, fields)
		}
	}
}

func TestCompanyName_RejectsBlank(t *testing.T) {
	if _, ok := fieldsOf(t, CompanyName(CompanyNameInput{CompanyName: " "}))["company_name"]; !ok {
		t.Error("expected company_name error")
	}
}
