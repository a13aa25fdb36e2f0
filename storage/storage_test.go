package storage

import "testing"

func TestParseGrantType(t *testing.T) {
	for _, gt := range GrantTypes {
		got, err := ParseGrantType(string(gt))
		if err != nil {
			t.Errorf("ParseGrantType(%q) failed: %v", gt, err)
		}
		if got != gt {
			t.Errorf("ParseGrantType(%q) = %q", gt, got)
		}
	}

	for _, s := range []string{"", "implicit", "PASSWORD", "nonexistent_grant"} {
		if _, err := ParseGrantType(s); err == nil {
			t.Errorf("ParseGrantType(%q) accepted", s)
		}
	}
}

func TestClientAllowsGrant(t *testing.T) {
	client := &Client{GrantTypes: []GrantType{GrantPassword, GrantRefreshToken}}

	for _, gt := range GrantTypes {
		want := gt == GrantPassword || gt == GrantRefreshToken
		if got := client.AllowsGrant(gt); got != want {
			t.Errorf("AllowsGrant(%q) = %v, want %v", gt, got, want)
		}
	}

	empty := &Client{}
	if empty.AllowsGrant(GrantPassword) {
		t.Error("client with no grants allowed a grant")
	}
}
