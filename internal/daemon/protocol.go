// Package daemon exposes the scan coordinator over a local socket so other
// processes can request scans and query progress. Connections authenticate
// with an HMAC-SHA256 challenge exchange over a pre-shared key before any
// command is accepted.
package daemon

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	OpScan     = "scan"
	OpProgress = "progress"
	OpWatch    = "watch"
	OpUnwatch  = "unwatch"
)

// Command is one request sent by a client; a connection carries exactly one.
type Command struct {
	Op      string   `json:"op"`
	Folders []string `json:"folders,omitempty"`
	Force   bool     `json:"force,omitempty"`
	Path    string   `json:"path,omitempty"`
}

type Response struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Scanning bool   `json:"scanning,omitempty"`
	Scanned  int    `json:"scanned,omitempty"`
}

// ErrAuthFailed is returned when the peer cannot prove it holds the key.
var ErrAuthFailed = errors.New("authentication failed")

const challengeSize = 32

// deliverChallenge sends a random nonce and verifies the peer's HMAC of it.
func deliverChallenge(conn net.Conn, key []byte) error {
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("generate challenge: %w", err)
	}
	if _, err := conn.Write(challenge); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	digest := make([]byte, sha256.Size)
	if _, err := io.ReadFull(conn, digest); err != nil {
		return fmt.Errorf("read challenge answer: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(challenge)
	if !hmac.Equal(digest, mac.Sum(nil)) {
		return ErrAuthFailed
	}
	return nil
}

// answerChallenge reads the peer's nonce and replies with its HMAC.
func answerChallenge(conn net.Conn, key []byte) error {
	challenge := make([]byte, challengeSize)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(challenge)
	if _, err := conn.Write(mac.Sum(nil)); err != nil {
		return fmt.Errorf("send challenge answer: %w", err)
	}
	return nil
}

// authenticateServer runs the server side of the mutual handshake.
func authenticateServer(conn net.Conn, key []byte) error {
	if err := deliverChallenge(conn, key); err != nil {
		return err
	}
	return answerChallenge(conn, key)
}

// authenticateClient runs the client side of the mutual handshake.
func authenticateClient(conn net.Conn, key []byte) error {
	if err := answerChallenge(conn, key); err != nil {
		return err
	}
	return deliverChallenge(conn, key)
}
