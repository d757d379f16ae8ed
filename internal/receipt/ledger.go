package receipt

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tiger/agent-slo-pipeline/api/governance"
)

// Ledger persists signed receipts as per-actor append-only JSONL files.
// Receipts are never edited in place; a correction is a new receipt.
type Ledger struct {
	mu     sync.Mutex
	dir    string
	public ed25519.PublicKey
}

// NewLedger creates the ledger directory if needed.
func NewLedger(dir string, public ed25519.PublicKey) (*Ledger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("ledger: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	return &Ledger{dir: dir, public: public}, nil
}

// Append verifies the receipt signature and appends it to the actor's
// ledger file. Signing and verification failures are fatal here: an
// unverifiable receipt must never reach disk.
func (l *Ledger) Append(r governance.Receipt) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := Verify(l.public, r); err != nil {
		return err
	}

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger: marshal receipt: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.actorPath(r.Actor), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// Read returns every receipt recorded for the actor in append order.
func (l *Ledger) Read(actor string) ([]governance.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.actorPath(actor))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	var receipts []governance.Receipt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r governance.Receipt
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, fmt.Errorf("ledger: decode receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}
	return receipts, nil
}

// VerifyLedger re-checks every stored signature for the actor and
// returns the count of verified receipts.
func (l *Ledger) VerifyLedger(actor string) (int, error) {
	receipts, err := l.Read(actor)
	if err != nil {
		return 0, err
	}
	for i, r := range receipts {
		if err := Verify(l.public, r); err != nil {
			return i, fmt.Errorf("ledger: receipt %d (%s): %w", i, r.ReceiptID, err)
		}
	}
	return len(receipts), nil
}

// AnchorHash folds the actor's ledger into one rolling SHA-256 digest.
// Publishing the digest externally makes silent rewrites of history
// detectable.
func (l *Ledger) AnchorHash(actor string) (string, error) {
	receipts, err := l.Read(actor)
	if err != nil {
		return "", err
	}
	anchor := sha256.Sum256([]byte("aslo-ledger/v1"))
	for _, r := range receipts {
		canon, err := r.CanonicalBytes()
		if err != nil {
			return "", err
		}
		h := sha256.New()
		h.Write(anchor[:])
		h.Write(canon)
		copy(anchor[:], h.Sum(nil))
	}
	return hex.EncodeToString(anchor[:]), nil
}

// Actors lists every actor with a ledger file.
func (l *Ledger) Actors() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	var actors []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		actors = append(actors, strings.TrimSuffix(name, ".jsonl"))
	}
	return actors, nil
}

func (l *Ledger) actorPath(actor string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, actor)
	return filepath.Join(l.dir, safe+".jsonl")
}
