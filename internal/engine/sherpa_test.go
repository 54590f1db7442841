package engine

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestModelPaths(t *testing.T) {
	tests := []struct {
		name        string
		config      SherpaConfig
		wantEncoder string
		wantDecoder string
		wantTokens  string
	}{
		{
			name:        "int8 derivation",
			config:      SherpaConfig{Identifier: "large-v2", Dir: "./models", ComputeType: "int8"},
			wantEncoder: filepath.Join("./models", "large-v2-encoder.int8.onnx"),
			wantDecoder: filepath.Join("./models", "large-v2-decoder.int8.onnx"),
			wantTokens:  filepath.Join("./models", "large-v2-tokens.txt"),
		},
		{
			name:        "float16 derivation",
			config:      SherpaConfig{Identifier: "turbo", Dir: "/opt/models", ComputeType: "float16"},
			wantEncoder: filepath.Join("/opt/models", "turbo-encoder.fp16.onnx"),
			wantDecoder: filepath.Join("/opt/models", "turbo-decoder.fp16.onnx"),
			wantTokens:  filepath.Join("/opt/models", "turbo-tokens.txt"),
		},
		{
			name:        "float32 has no suffix",
			config:      SherpaConfig{Identifier: "base", Dir: "m", ComputeType: "float32"},
			wantEncoder: filepath.Join("m", "base-encoder.onnx"),
			wantDecoder: filepath.Join("m", "base-decoder.onnx"),
			wantTokens:  filepath.Join("m", "base-tokens.txt"),
		},
		{
			name: "explicit paths win",
			config: SherpaConfig{
				Identifier:  "large-v2",
				Dir:         "./models",
				ComputeType: "int8",
				Encoder:     "/custom/enc.onnx",
				Decoder:     "/custom/dec.onnx",
				Tokens:      "/custom/tokens.txt",
			},
			wantEncoder: "/custom/enc.onnx",
			wantDecoder: "/custom/dec.onnx",
			wantTokens:  "/custom/tokens.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, decoder, tokens := tt.config.modelPaths()
			if encoder != tt.wantEncoder {
				t.Errorf("Encoder: expected %s, got %s", tt.wantEncoder, encoder)
			}
			if decoder != tt.wantDecoder {
				t.Errorf("Decoder: expected %s, got %s", tt.wantDecoder, decoder)
			}
			if tokens != tt.wantTokens {
				t.Errorf("Tokens: expected %s, got %s", tt.wantTokens, tokens)
			}
		})
	}
}

func TestLoadPrecisionMissingModel(t *testing.T) {
	loader := NewSherpaLoader(SherpaConfig{
		Identifier:  "large-v2",
		Dir:         t.TempDir(),
		ComputeType: "int8",
		Language:    "de",
	}, nil, testLogger())

	_, err := loader.LoadPrecision()
	if err == nil {
		t.Fatal("Expected error for missing model files")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadAlignerNotConfigured(t *testing.T) {
	loader := NewSherpaLoader(SherpaConfig{Identifier: "large-v2", Dir: "."}, nil, testLogger())

	_, err := loader.LoadAligner()
	if err != ErrAlignerNotConfigured {
		t.Errorf("Expected ErrAlignerNotConfigured, got %v", err)
	}
}

func TestLoadAlignerMissingModel(t *testing.T) {
	loader := NewSherpaLoader(SherpaConfig{
		AlignerModel:  filepath.Join(t.TempDir(), "ctc.onnx"),
		AlignerTokens: filepath.Join(t.TempDir(), "tokens.txt"),
	}, nil, testLogger())

	_, err := loader.LoadAligner()
	if err == nil {
		t.Fatal("Expected error for missing aligner model")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestParseLang(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<|de|>", "de"},
		{"<|en|>", "en"},
		{"de", "de"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := parseLang(tt.in); got != tt.want {
			t.Errorf("parseLang(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestGroupWords(t *testing.T) {
	tokens := []string{"▁hal", "lo", "▁wel", "t"}
	timestamps := []float32{0.1, 0.3, 0.8, 1.0}

	words := groupWords(tokens, timestamps, 2.0, 4.0)
	if len(words) != 2 {
		t.Fatalf("Expected 2 words, got %d: %+v", len(words), words)
	}

	if words[0].Word != "hallo" {
		t.Errorf("Expected word hallo, got %q", words[0].Word)
	}
	if math.Abs(words[0].Start-2.1) > 1e-6 {
		t.Errorf("Expected start 2.1, got %f", words[0].Start)
	}
	if math.Abs(words[0].End-2.8) > 1e-6 {
		t.Errorf("Expected end at next word start 2.8, got %f", words[0].End)
	}

	if words[1].Word != "welt" {
		t.Errorf("Expected word welt, got %q", words[1].Word)
	}
	if words[1].End != 4.0 {
		t.Errorf("Expected last word to end at segment end, got %f", words[1].End)
	}
}

func TestGroupWordsEmpty(t *testing.T) {
	if words := groupWords(nil, nil, 0, 1); words != nil {
		t.Errorf("Expected nil words for no tokens, got %+v", words)
	}
}

func TestGroupWordsNoMarker(t *testing.T) {
	// Tokens without a word marker still form one word.
	words := groupWords([]string{"foo", "bar"}, []float32{0, 0.5}, 0, 1)
	if len(words) != 1 || words[0].Word != "foobar" {
		t.Errorf("Expected single merged word, got %+v", words)
	}
}
