// Command ws_smoke exercises a running server end to end: it registers a
// throwaway user, opens the channel socket, takes the microphone, pushes a
// short burst of audio and releases. Useful against a local instance.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/airwavehq/airwave-server/internal/radio"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "smoketester", "username to register and connect as")
	password := flag.String("password", "smokepass", "password for the throwaway user")
	channelName := flag.String("channel", "smoke", "channel name to create")
	chunks := flag.Int("chunks", 5, "number of audio chunks to push")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := obtainToken(ctx, *addr, *user, *password)
	if err != nil {
		return err
	}

	channelID, err := createChannel(ctx, *addr, token, *channelName)
	if err != nil {
		return err
	}
	fmt.Printf("channel %d ready\n", channelID)

	wsAddr := strings.Replace(*addr, "http", "ws", 1) +
		fmt.Sprintf("/ws/%s?channel_id=%d&token=%s", *user, channelID, token)

	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// Drain the join sequence.
	for i := 0; i < 3; i++ {
		if err := printFrame(ctx, conn); err != nil {
			return err
		}
	}

	if err := wsjson.Write(ctx, conn, radio.Inbound{Type: radio.TypeSpeakRequest, SpeakerName: *user}); err != nil {
		return fmt.Errorf("speak_request: %w", err)
	}
	if err := printFrame(ctx, conn); err != nil {
		return err
	}

	frame := make([]byte, 640) // 20ms of 16kHz mono 16-bit
	for i := 0; i < *chunks; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			return fmt.Errorf("audio chunk %d: %w", i, err)
		}
	}
	fmt.Printf("pushed %d audio chunks\n", *chunks)

	if err := wsjson.Write(ctx, conn, radio.Inbound{Type: radio.TypeSpeakRelease}); err != nil {
		return fmt.Errorf("speak_release: %w", err)
	}
	return printFrame(ctx, conn)
}

// obtainToken registers the user, falling back to login when it exists.
func obtainToken(ctx context.Context, addr, user, password string) (string, error) {
	body := map[string]string{"username": user, "password": password}

	token, status, err := postJSON(ctx, addr+"/api/register", body)
	if err != nil {
		return "", err
	}
	if status == http.StatusConflict {
		token, status, err = postJSON(ctx, addr+"/api/login", body)
		if err != nil {
			return "", err
		}
	}
	if token == "" {
		return "", fmt.Errorf("auth failed with status %d", status)
	}
	return token, nil
}

func createChannel(ctx context.Context, addr, token, name string) (int64, error) {
	payload, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, "POST", addr+"/api/channels", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("create channel: %w", err)
	}
	defer resp.Body.Close()

	var channel struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&channel); err != nil {
		return 0, fmt.Errorf("decode channel: %w", err)
	}
	if channel.ID == 0 {
		return 0, fmt.Errorf("create channel failed with status %d", resp.StatusCode)
	}
	return channel.ID, nil
}

func postJSON(ctx context.Context, url string, body map[string]string) (string, int, error) {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	var auth struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&auth)
	return auth.Token, resp.StatusCode, nil
}

func printFrame(ctx context.Context, conn *websocket.Conn) error {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if typ == websocket.MessageBinary {
		fmt.Printf("received %d bytes of audio\n", len(data))
		return nil
	}

	var envelope struct {
		Type    string `json:"type"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	fmt.Printf("received frame: type=%s", envelope.Type)
	if envelope.Message != "" {
		fmt.Printf(" message=%q", envelope.Message)
	}
	fmt.Println()
	return nil
}
