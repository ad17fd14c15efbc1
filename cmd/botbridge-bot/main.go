// botbridge-bot is a reference client for the bridge protocol. It answers
// the handshake, reports its name and status, heartbeats, and replies to
// username requests. Useful for manual testing and as a protocol example.
package main

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/botbridge/botbridge/internal/handshake"
	"github.com/botbridge/botbridge/internal/protocol"
)

type botConfig struct {
	addr      string
	secret    string
	name      string
	username  string
	heartbeat time.Duration
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

func loadBotConfig() (botConfig, bool) {
	cfg := botConfig{
		addr:      os.Getenv("BOTBRIDGE_BOT_ADDR"),
		secret:    os.Getenv("BOTBRIDGE_BOT_SECRET"),
		name:      os.Getenv("BOTBRIDGE_BOT_NAME"),
		username:  os.Getenv("BOTBRIDGE_BOT_USERNAME"),
		heartbeat: 10 * time.Second,
	}
	if cfg.name == "" {
		cfg.name, _ = os.Hostname()
	}
	if cfg.username == "" {
		cfg.username = cfg.name
	}
	if v := os.Getenv("BOTBRIDGE_BOT_INTERVAL"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			cfg.heartbeat = time.Duration(seconds) * time.Second
		}
	}
	return cfg, cfg.addr != "" && cfg.secret != ""
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	cfg, ok := loadBotConfig()
	if !ok {
		log.Fatal().Msg("BOTBRIDGE_BOT_ADDR and BOTBRIDGE_BOT_SECRET are required")
	}

	backoff := initialBackoff
	for {
		start := time.Now()
		if err := runSession(cfg, log); err != nil {
			log.Error().Err(err).Dur("backoff", backoff).Msg("session ended, reconnecting")
		}
		if time.Since(start) > time.Minute {
			backoff = initialBackoff
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runSession drives one connection from dial to disconnect.
func runSession(cfg botConfig, log zerolog.Logger) error {
	conn, err := net.DialTimeout("tcp", cfg.addr, 10*time.Second)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	log.Info().Str("addr", cfg.addr).Msg("connected")

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, protocol.HandshakeChallengePrefix):
			challenge := strings.TrimPrefix(line, protocol.HandshakeChallengePrefix)
			response := handshake.ExpectedResponse(challenge, cfg.secret)
			if err := writeLine(conn, protocol.HandshakeResponsePrefix+response); err != nil {
				return err
			}

		case line == protocol.HandshakeSuccessLine:
			log.Info().Msg("authenticated")
			if err := writeLine(conn, "$ClientName:"+cfg.name); err != nil {
				return err
			}
			if err := sendStatus(conn); err != nil {
				return err
			}
			go heartbeatLoop(conn, cfg.heartbeat, stopHeartbeat, log)

		default:
			var msg protocol.Message
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				log.Info().Str("line", line).Msg("server message")
				continue
			}
			if msg.Type == protocol.TypeUsernameRequest {
				if err := sendUsername(conn, cfg.username); err != nil {
					return err
				}
			}
		}
	}
	return scanner.Err()
}

func heartbeatLoop(conn net.Conn, interval time.Duration, stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := writeLine(conn, "$Heartbeat"); err != nil {
				log.Debug().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}

func sendStatus(conn net.Conn) error {
	data, err := json.Marshal(protocol.Message{
		Type: protocol.TypeStatusUpdate,
		Status: map[string]any{
			protocol.FieldLoaded:        true,
			protocol.FieldLogged:        false,
			protocol.FieldScriptRunning: false,
			protocol.FieldLoadedScript:  "",
		},
		Timestamp:       time.Now().UnixMilli(),
		ProtocolVersion: protocol.Version,
	})
	if err != nil {
		return err
	}
	return writeLine(conn, string(data))
}

func sendUsername(conn net.Conn, username string) error {
	data, err := json.Marshal(protocol.Message{
		Type:            protocol.TypeUsernameResponse,
		Username:        username,
		Timestamp:       time.Now().UnixMilli(),
		ProtocolVersion: protocol.Version,
	})
	if err != nil {
		return err
	}
	return writeLine(conn, string(data))
}

func writeLine(conn net.Conn, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write(append([]byte(line), '\n'))
	return err
}
