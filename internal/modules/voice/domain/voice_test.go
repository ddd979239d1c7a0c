package domain

import "testing"

func TestMatcherNormalizesAndMatchesPhrases(t *testing.T) {
	t.Parallel()
	m := NewMatcher([]string{"  HELP ", "call ambulance", "help", ""})
	if len(m.phrases) != 2 || m.Longest() != 2 {
		t.Fatalf("unexpected phrases %v", m.phrases)
	}
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{text: "Help!", want: "help", ok: true},
		{text: "please, CALL an ambulance", ok: false},
		{text: "please call ambulance now", want: "call ambulance", ok: true},
		{text: "helpful neighbours", ok: false},
		{text: "dial 108", ok: false},
	}
	for _, tc := range cases {
		got, ok := m.Match(Words(tc.text))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%q: got (%q,%v) want (%q,%v)", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	if err := (Config{Keywords: []string{"  ", "!!"}}).Validate(); err == nil {
		t.Fatalf("blank keywords must be rejected")
	}
	if err := (Config{Keywords: []string{"help"}, Cooldown: -1}).Validate(); err == nil {
		t.Fatalf("negative cooldown must be rejected")
	}
	cfg := Config{}.WithDefaults()
	if err := cfg.Validate(); err != nil || cfg.Cooldown != DefaultCooldown || len(cfg.Keywords) != 4 {
		t.Fatalf("defaults invalid: %+v %v", cfg, err)
	}
}
