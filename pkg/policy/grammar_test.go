package policy

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"simple predicate", `"role=FRONTEND@A"`, false},
		{"and", `"role=FRONTEND@A" AND "team=platform"`, false},
		{"or", `"role=FRONTEND@A" OR "role=ADMIN"`, false},
		{"negation", `NOT "role=FRONTEND@A"`, false},
		{"parens", `("role=FRONTEND@A")`, false},
		{"nested", `("role=FRONTEND@A" OR "role=ADMIN") AND "team=platform"`, false},
		{"unbalanced parens", `("role=FRONTEND@A"`, true},
		{"empty", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.expression, err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		attrs      map[string]string
		want       bool
	}{
		{"matching predicate", `"role=ADMIN"`, map[string]string{"role": "ADMIN"}, true},
		{"non-matching predicate", `"role=ADMIN"`, map[string]string{"role": "MEMBER"}, false},
		{"and both true", `"role=ADMIN" AND "team=platform"`, map[string]string{"role": "ADMIN", "team": "platform"}, true},
		{"and one false", `"role=ADMIN" AND "team=platform"`, map[string]string{"role": "ADMIN"}, false},
		{"or either true", `"role=ADMIN" OR "role=MEMBER"`, map[string]string{"role": "MEMBER"}, true},
		{"negation", `NOT "role=ADMIN"`, map[string]string{"role": "MEMBER"}, true},
		{"unknown attribute parses but evaluates false", `"nonexistent=X"`, map[string]string{"role": "ADMIN"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expression, tt.attrs)
			if err != nil {
				t.Fatalf("Evaluate(%q) error = %v", tt.expression, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q, %v) = %v, want %v", tt.expression, tt.attrs, got, tt.want)
			}
		})
	}
}
