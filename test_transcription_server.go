package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// Dev stand-in for the remote whisper endpoint: point the service at it
// with model.backend=remote and model.remote_endpoint=http://localhost:9000/transcribe.

type segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type transcriptionResponse struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	responseFormat := r.FormValue("response_format")
	language := r.FormValue("language")
	initialPrompt := r.FormValue("initial_prompt")
	batchSize := r.FormValue("batch_size")

	// Get audio file
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	// Duration assuming 16 kHz mono PCM-16 under a 44-byte WAV header
	duration := 0.0
	if len(audioData) > 44 {
		duration = float64(len(audioData)-44) / 32000.0
	}

	log.Printf("🎤 TRANSCRIPTION REQUEST RECEIVED:")
	log.Printf("    Filename: %s", header.Filename)
	log.Printf("    Audio Size: %d bytes (%.2fs)", len(audioData), duration)
	log.Printf("    Language: %s", language)
	log.Printf("    Response Format: %s", responseFormat)
	log.Printf("    Batch Size: %s", batchSize)
	log.Printf("    Initial Prompt: %s", initialPrompt)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	if language == "" {
		language = "de"
	}

	response := transcriptionResponse{
		Text: "Dies ist eine Testtranskription des hochgeladenen Audiofragments.",
		Segments: []segment{
			{ID: 0, Start: 0, End: duration, Text: "Dies ist eine Testtranskription des hochgeladenen Audiofragments."},
		},
		Language: language,
		Duration: duration,
	}

	// Send JSON response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ TRANSCRIPTION RESPONSE SENT: '%s'", response.Text)
	log.Println("---")
}

func main() {
	http.HandleFunc("/transcribe", transcribeHandler)

	port := ":9000"
	log.Printf("🚀 Test Transcription Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/transcribe", port)

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
