package llm

import (
	"encoding/base64"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestParseDataURI(t *testing.T) {
	cases := []struct {
		name     string
		uri      string
		wantMime string
		wantB64  string
		wantOK   bool
	}{
		{"png data uri", "data:image/png;base64,aGVsbG8=", "image/png", "aGVsbG8=", true},
		{"no media type", "data:;base64,aGVsbG8=", "application/octet-stream", "aGVsbG8=", true},
		{"plain url", "https://example.com/a.png", "", "", false},
		{"data uri without base64", "data:text/plain,hello", "", "", false},
		{"data uri without comma", "data:image/png;base64", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mime, b64, ok := ParseDataURI(tc.uri)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if mime != tc.wantMime || b64 != tc.wantB64 {
				t.Fatalf("got (%q, %q), want (%q, %q)", mime, b64, tc.wantMime, tc.wantB64)
			}
		})
	}
}

func TestToOpenAIParts_MixedBlocks(t *testing.T) {
	parts := toOpenAIParts([]ContentBlock{
		{Type: "text", Text: "what is this?"},
		{Type: "image", ImageURL: "https://example.com/a.png"},
	})
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0].OfText == nil || parts[0].OfText.Text != "what is this?" {
		t.Fatalf("expected a text part first, got %+v", parts[0])
	}
	if parts[1].OfImageURL == nil || parts[1].OfImageURL.ImageURL.URL != "https://example.com/a.png" {
		t.Fatalf("expected an image_url part second, got %+v", parts[1])
	}
}

func TestToAnthropicBlocks_DataURIBecomesBase64Source(t *testing.T) {
	blocks := toAnthropicBlocks([]ContentBlock{
		{Type: "image", ImageURL: "data:image/jpeg;base64,aGVsbG8="},
		{Type: "image", ImageURL: "https://example.com/b.jpg"},
	})
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].OfImage == nil || blocks[0].OfImage.Source.OfBase64 == nil {
		t.Fatalf("expected a base64 image source for the data URI, got %+v", blocks[0])
	}
	if got := blocks[0].OfImage.Source.OfBase64.Data; got != "aGVsbG8=" {
		t.Fatalf("base64 payload = %q, want aGVsbG8=", got)
	}
	if blocks[1].OfImage == nil || blocks[1].OfImage.Source.OfURL == nil {
		t.Fatalf("expected a URL image source for the plain URL, got %+v", blocks[1])
	}
	if got := blocks[1].OfImage.Source.OfURL.URL; got != "https://example.com/b.jpg" {
		t.Fatalf("url source = %q, want the original URL", got)
	}
}

func TestToGeminiParts_DataURIBecomesBlob(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("pixels"))
	parts := toGeminiParts([]ContentBlock{
		{Type: "text", Text: "describe"},
		{Type: "image", ImageURL: "data:image/png;base64," + payload},
	})
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if got, ok := parts[0].(genai.Text); !ok || string(got) != "describe" {
		t.Fatalf("expected a text part first, got %+v", parts[0])
	}
	blob, ok := parts[1].(genai.Blob)
	if !ok {
		t.Fatalf("expected a blob part for the data URI, got %T", parts[1])
	}
	if blob.MIMEType != "image/png" || string(blob.Data) != "pixels" {
		t.Fatalf("blob = {%q, %q}, want {image/png, pixels}", blob.MIMEType, blob.Data)
	}
}
