// streamclient exercises the streaming endpoint: it reads a WAV file,
// sends it as base64 fragments at roughly real-time pace, and prints the
// transcript messages as they arrive.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

type clientMessage struct {
	Type       string `json:"type"`
	Language   string `json:"language,omitempty"`
	Data       string `json:"data,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM)")
	serverURL := flag.String("server", "ws://localhost:8765/stream", "WebSocket stream URL")
	language := flag.String("language", "en", "Language hint")
	chunkMs := flag.Int("chunk-ms", 1000, "Fragment duration in milliseconds")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	numChannels := int(binary.LittleEndian.Uint16(header[22:24]))
	sampleRate := int(binary.LittleEndian.Uint32(header[24:28]))
	bitsPerSample := int(binary.LittleEndian.Uint16(header[34:36]))
	if bitsPerSample != 16 {
		log.Fatalf("Expected 16-bit PCM, got %d bits per sample", bitsPerSample)
	}
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d", numChannels, sampleRate, bitsPerSample)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *serverURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg serverMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "ready":
				log.Println("Server ready")
			case "transcript":
				log.Printf("Transcript: %s", msg.Text)
			case "done":
				log.Println("Session complete")
				return
			case "error":
				log.Printf("Server error: %s", msg.Message)
			}
		}
	}()

	// Raw PCM stream: the server wraps each flush as a standalone WAV.
	if err := conn.WriteJSON(clientMessage{
		Type:       "config",
		Language:   *language,
		Format:     "pcm16",
		SampleRate: sampleRate,
		Channels:   numChannels,
	}); err != nil {
		log.Fatalf("Failed to send config: %v", err)
	}

	bytesPerMs := sampleRate * numChannels * 2 / 1000
	chunkSize := bytesPerMs * *chunkMs
	buf := make([]byte, chunkSize)
	sent := 0
	for {
		n, err := f.Read(buf)
		if n > 0 {
			payload := base64.StdEncoding.EncodeToString(buf[:n])
			if err := conn.WriteJSON(clientMessage{Type: "audio", Data: payload}); err != nil {
				log.Fatalf("Failed to send fragment: %v", err)
			}
			sent++
			time.Sleep(time.Duration(*chunkMs) * time.Millisecond)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}
	log.Printf("Sent %d fragments, stopping session", sent)

	if err := conn.WriteJSON(clientMessage{Type: "stop"}); err != nil {
		log.Fatalf("Failed to send stop: %v", err)
	}

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Println("Timed out waiting for session completion")
	}
}
