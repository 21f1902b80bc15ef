// Package domain contains entities without transport logic, just meta-data.
package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxNicknameLen  = 36
	DefaultNickname = "Anonymous"
)

// Participant is one viewer taking part in voice.
type Participant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Speaking bool   `json:"speaking"`
}

// NormalizeNickname trims name and caps it at MaxNicknameLen runes.
// An empty result falls back to DefaultNickname.
func NormalizeNickname(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultNickname
	}
	if utf8.RuneCountInString(name) > MaxNicknameLen {
		name = string([]rune(name)[:MaxNicknameLen])
	}
	return name
}
