package models

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestStoredToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC()
	tok := (&oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry}).
		WithExtra(map[string]any{"scope": "user.read playlists.write"})

	st := NewStoredToken("id-1", ServiceTidal, tok)

	t.Run("copies fields", func(t *testing.T) {
		if st.ID() != "id-1" || st.Service != ServiceTidal {
			t.Errorf("unexpected identity: %+v", st)
		}
		if st.Scope != "user.read playlists.write" {
			t.Errorf("expected scope from token extra, got %q", st.Scope)
		}
		back := st.OAuth2()
		if back.AccessToken != "a" || back.RefreshToken != "r" || !back.Expiry.Equal(expiry) {
			t.Errorf("round trip mismatch: %+v", back)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if err := st.Validate(); err != nil {
			t.Errorf("expected valid token, got %v", err)
		}

		bad := *st
		bad.Service = "deezer"
		if err := bad.Validate(); err == nil {
			t.Error("expected error for unknown service")
		}

		bad = *st
		bad.AccessToken = ""
		if err := bad.Validate(); err == nil {
			t.Error("expected error for missing access token")
		}
	})
}

func TestTrack(t *testing.T) {
	tr := Track{Title: "Song", Artist: "A", Artists: []string{"A", "B"}}
	if got := tr.ArtistNames(","); got != "A,B" {
		t.Errorf("expected A,B got %s", got)
	}
	if got := (Track{Title: "Song", Artist: "A"}).ArtistNames(","); got != "A" {
		t.Errorf("expected fallback to primary artist, got %s", got)
	}
	if tr.String() != "Song - A" {
		t.Errorf("unexpected String(): %s", tr.String())
	}
}
