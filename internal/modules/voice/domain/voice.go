package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const DefaultCooldown = 30 * time.Second

var DefaultKeywords = []string{"help", "emergency", "108", "accident"}

// TriggerVoice is the trigger type carried by every voice trigger event.
const TriggerVoice = "voice"

// Token is one recognized piece of speech: a word, a phrase, or a whole
// utterance.
type Token struct {
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
	Final bool      `json:"final,omitempty"`
}

// TokenEvent is one delivery from a token stream: a token or a fault.
type TokenEvent struct {
	Token Token
	Err   error
}

type Config struct {
	Keywords []string
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{Keywords: append([]string(nil), DefaultKeywords...), Cooldown: DefaultCooldown}
}

func (c Config) WithDefaults() Config {
	if len(c.Keywords) == 0 {
		c.Keywords = append([]string(nil), DefaultKeywords...)
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

func (c Config) Validate() error {
	if len(NewMatcher(c.Keywords).phrases) == 0 {
		return fmt.Errorf("at least one non-empty keyword is required")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	return nil
}

type TriggerEvent struct {
	Type       string
	Keyword    string
	Transcript string
	At         time.Time
}

type Status struct {
	Listening       bool
	CoolingDown     bool
	CooldownUntil   time.Time
	LastTriggeredAt time.Time
}

// Words splits text into lower-case words, dropping punctuation.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Matcher finds keyword phrases in a word sequence. A multi-word keyword
// matches only as a contiguous run of words.
type Matcher struct {
	phrases [][]string
	longest int
}

func NewMatcher(keywords []string) Matcher {
	m := Matcher{}
	seen := map[string]struct{}{}
	for _, kw := range keywords {
		words := Words(kw)
		if len(words) == 0 {
			continue
		}
		key := strings.Join(words, " ")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		m.phrases = append(m.phrases, words)
		if len(words) > m.longest {
			m.longest = len(words)
		}
	}
	return m
}

// Longest is the word count of the longest keyword.
func (m Matcher) Longest() int {
	return m.longest
}

// Match returns the first keyword found in words, in keyword order.
func (m Matcher) Match(words []string) (string, bool) {
	for _, phrase := range m.phrases {
		for i := 0; i+len(phrase) <= len(words); i++ {
			if equalWords(words[i:i+len(phrase)], phrase) {
				return strings.Join(phrase, " "), true
			}
		}
	}
	return "", false
}

func equalWords(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
