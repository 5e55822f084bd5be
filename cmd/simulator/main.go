package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/nshruti113/vnc-security-monitor/internal/dataset"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"go.uber.org/zap"
)

const (
	AttackFileTransfer = "FILE_TRANSFER"
	AttackClipboard    = "CLIPBOARD"
	AttackDatabaseDump = "DATABASE_DUMP"
	AttackEncoded      = "ENCODED"
)

var attackSequence = []string{AttackFileTransfer, AttackClipboard, AttackDatabaseDump, AttackEncoded}

// sessionAttacks pairs each packet attack with the session scenario it is
// sent under
var sessionAttacks = map[string]string{
	AttackFileTransfer: dataset.AttackLargeFileExfil,
	AttackClipboard:    dataset.AttackInsiderThreat,
	AttackDatabaseDump: dataset.AttackTunnelExfil,
	AttackEncoded:      dataset.AttackSteganographic,
}

type Simulator struct {
	serverURL    string
	normalRate   int
	attackActive bool
	attackType   string
	client       *http.Client
	faker        *gofakeit.Faker
	sessions     *dataset.Generator
	logger       *zap.Logger
}

func NewSimulator(serverURL string, normalRate int, seed uint64, logger *zap.Logger) *Simulator {
	return &Simulator{
		serverURL:  strings.TrimRight(serverURL, "/"),
		normalRate: normalRate,
		client:     &http.Client{Timeout: 10 * time.Second},
		faker:      gofakeit.New(seed),
		sessions:   dataset.NewGenerator(seed),
		logger:     logger,
	}
}

// NormalPayload is a small framebuffer update or keystroke burst
func (s *Simulator) NormalPayload() []byte {
	if rand.IntN(2) == 0 {
		buf := make([]byte, rand.IntN(4096)+64)
		for i := range buf {
			buf[i] = byte(rand.IntN(256))
		}
		return buf
	}
	return []byte(s.words(rand.IntN(8) + 3))
}

func (s *Simulator) words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.faker.Word()
	}
	return strings.Join(out, " ")
}

// AttackPayload builds a payload that trips the given heuristic
func (s *Simulator) AttackPayload(attack string) []byte {
	switch attack {
	case AttackFileTransfer:
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "POST /file HTTP/1.1\r\nContent-Type: application/octet-stream\r\nContent-Disposition: attachment; filename=%q\r\n\r\n", s.faker.Word()+".pdf")
		buf.WriteString("%PDF-1.7\n")
		body := make([]byte, 2*1024*1024)
		for i := range body {
			body[i] = byte(rand.IntN(256))
		}
		buf.Write(body)
		return buf.Bytes()
	case AttackClipboard:
		var sb strings.Builder
		sb.WriteString("clipboard:")
		for sb.Len() < 20000 {
			sb.WriteString(s.faker.Name())
			sb.WriteString(",")
			sb.WriteString(s.faker.Email())
			sb.WriteString(",")
			sb.WriteString(s.faker.IPv4Address())
			sb.WriteString("\n")
		}
		return []byte(sb.String())
	case AttackDatabaseDump:
		var sb strings.Builder
		sb.WriteString("CREATE TABLE customers (id INT, name TEXT, email TEXT);\n")
		for i := 0; i < 50; i++ {
			fmt.Fprintf(&sb, "INSERT INTO customers VALUES (%d, '%s', '%s');\n", i, s.faker.Name(), s.faker.Email())
		}
		return []byte(sb.String())
	case AttackEncoded:
		secret := []byte(s.words(40))
		return []byte(base64.StdEncoding.EncodeToString(secret))
	default:
		return s.NormalPayload()
	}
}

// SendSession posts a session record and returns its ID
func (s *Simulator) SendSession(ctx context.Context, rec models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.post(ctx, "/api/sessions", "application/json", data)
}

// SendPacket posts a raw payload, optionally linked to a session
func (s *Simulator) SendPacket(ctx context.Context, payload []byte, sessionID string) error {
	path := "/api/packets"
	if sessionID != "" {
		path += "?session_id=" + sessionID
	}
	return s.post(ctx, path, "application/octet-stream", payload)
}

func (s *Simulator) post(ctx context.Context, path, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	return nil
}

// attackSession registers an anomalous session so packets can be linked to
// it. A server without a model rejects sessions; packets then go unlinked.
func (s *Simulator) attackSession(ctx context.Context, attack string) string {
	rec := s.sessions.AnomalousSession(uuid.New().String(), sessionAttacks[attack])
	if err := s.SendSession(ctx, rec); err != nil {
		s.logger.Warn("session rejected, sending unlinked packets", zap.Error(err))
		return ""
	}
	return rec.SessionID
}

// Run cycles between normal traffic and attack bursts until ctx is done
func (s *Simulator) Run(ctx context.Context, attackEvery time.Duration) {
	s.logger.Info("starting VNC traffic simulator",
		zap.String("server", s.serverURL),
		zap.Int("normal_rate", s.normalRate))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	attackTicker := time.NewTicker(attackEvery)
	defer attackTicker.Stop()

	currentAttackIndex := 0
	s.attackActive = true
	s.attackType = attackSequence[0]
	sessionID := s.attackSession(ctx, s.attackType)
	s.logger.Info("starting attack", zap.String("type", s.attackType))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < s.normalRate; i++ {
				if err := s.SendPacket(ctx, s.NormalPayload(), ""); err != nil {
					s.logger.Debug("send failed", zap.Error(err))
				}
			}
			if err := s.SendSession(ctx, s.sessions.NormalSession(uuid.New().String())); err != nil {
				s.logger.Debug("session rejected", zap.Error(err))
			}

			if s.attackActive {
				if err := s.SendPacket(ctx, s.AttackPayload(s.attackType), sessionID); err != nil {
					s.logger.Warn("attack send failed", zap.String("type", s.attackType), zap.Error(err))
				}
			}

		case <-attackTicker.C:
			if s.attackActive {
				s.logger.Info("attack stopped", zap.String("type", s.attackType))
				s.attackActive = false
				continue
			}
			currentAttackIndex = (currentAttackIndex + 1) % len(attackSequence)
			s.attackActive = true
			s.attackType = attackSequence[currentAttackIndex]
			sessionID = s.attackSession(ctx, s.attackType)
			s.logger.Info("starting attack", zap.String("type", s.attackType))
		}
	}
}

func main() {
	serverURL := flag.String("server", "http://localhost:8888", "Monitor base URL")
	normalRate := flag.Int("rate", 20, "Normal packets per second")
	attackEvery := flag.Duration("attack-every", 10*time.Second, "How long each attack and each quiet phase lasts")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Seed for generated content")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	NewSimulator(*serverURL, *normalRate, *seed, logger).Run(ctx, *attackEvery)
}
