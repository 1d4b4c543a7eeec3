package library

import (
	"errors"
	"testing"

	"github.com/genricoloni/backdrop/internal/domain"
)

var searchable = []domain.MediaItem{
	{ID: "1111", Kind: domain.KindImage, Locator: "/pics/sunset.jpg"},
	{ID: "2222", Kind: domain.KindImage, Locator: "/pics/sunrise.png"},
	{ID: "3333", Kind: domain.KindVideo, Locator: "https://cdn.example.com/loops/ocean.mp4"},
	{ID: "4444", Kind: domain.KindImage, Locator: "/pics/a1.jpg"},
	{ID: "5555", Kind: domain.KindImage, Locator: "/pics/a2.jpg"},
}

func TestSearch(t *testing.T) {
	got := Search(searchable, "SUN")
	if len(got) != 2 || got[0].ID != "1111" || got[1].ID != "2222" {
		t.Errorf("unexpected ranking %v", got)
	}
	if got := Search(searchable, "zzz"); len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantID  string
		wantErr error
	}{
		{"Exact Id", "3333", "3333", nil},
		{"Id Prefix", "22", "2222", nil},
		{"Best Name Match", "sun", "1111", nil},
		{"Remote Name", "ocean", "3333", nil},
		{"No Match", "mountain", "", domain.ErrItemNotFound},
		{"Empty", "", "", domain.ErrItemNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup(searchable, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("Lookup(%q) = %s, want %s", tt.ref, got.ID, tt.wantID)
			}
		})
	}

	if _, err := Lookup(searchable, "a"); err == nil || errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected an ambiguity error, got %v", err)
	}
}
