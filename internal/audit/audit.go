// Package audit emits tamper-evident records for every activate, validate
// and deactivate attempt. Entries form an explicit hash chain: each entry's
// hash covers its own content plus the previous entry's hash, so verifying
// the chain is a single walk from genesis.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies the protocol operation being recorded.
type EventType string

const (
	EventActivation   EventType = "activation"
	EventValidation   EventType = "validation"
	EventDeactivation EventType = "deactivation"
	EventRevocation   EventType = "revocation"
	EventSuspension   EventType = "suspension"
	EventResumption   EventType = "resumption"
	EventMint         EventType = "mint"
)

// Event is one outcome record. Result is "success" or "failure"; Reason
// carries the protocol reason code on failure.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	LicenseKey  string    `json:"license_key,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Result      string    `json:"result"`
	Reason      string    `json:"reason,omitempty"`
	OriginIP    string    `json:"origin_ip,omitempty"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(event Event) error
}

// genesisHash anchors the first entry of every chain.
var genesisHash = hex.EncodeToString(make([]byte, sha256.Size))

// ChainLog is an append-only JSON-lines file where each line's hash is
// derived from the previous line's hash plus its own content.
type ChainLog struct {
	mu       sync.Mutex
	path     string
	lastHash string
}

// NewChainLog opens (or creates) the audit log under dir and recovers the
// tail hash so new entries continue the existing chain.
func NewChainLog(dir string) (*ChainLog, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	cl := &ChainLog{
		path:     filepath.Join(dir, "audit.log"),
		lastHash: genesisHash,
	}

	events, err := cl.Events()
	if err != nil {
		return nil, err
	}
	if n := len(events); n > 0 {
		cl.lastHash = events[n-1].Hash
	}
	return cl, nil
}

// Record assigns the event an ID, links it to the chain and appends it.
func (cl *ChainLog) Record(event Event) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.PrevHash = cl.lastHash
	event.Hash = chainHash(event)

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	f, err := os.OpenFile(cl.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	cl.lastHash = event.Hash
	return nil
}

// Events reads the full log in order.
func (cl *ChainLog) Events() ([]Event, error) {
	f, err := os.Open(cl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit line %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return events, nil
}

// Verify walks the chain once from genesis and reports the first broken
// link, either a recomputed hash mismatch or a prev-hash discontinuity.
func (cl *ChainLog) Verify() error {
	events, err := cl.Events()
	if err != nil {
		return err
	}

	prev := genesisHash
	for i, e := range events {
		if e.PrevHash != prev {
			return fmt.Errorf("audit chain broken at entry %d: prev hash mismatch", i)
		}
		if chainHash(e) != e.Hash {
			return fmt.Errorf("audit chain broken at entry %d: content hash mismatch", i)
		}
		prev = e.Hash
	}
	return nil
}

// chainHash covers every field except the hash itself.
func chainHash(e Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s|%s|%s",
		e.ID, e.Timestamp.UnixNano(), e.Type, e.LicenseKey,
		e.Fingerprint, e.Result, e.Reason, e.OriginIP, e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Discard drops every event. Used in tests and as a fallback when no audit
// directory is configured.
type Discard struct{}

func (Discard) Record(Event) error { return nil }
