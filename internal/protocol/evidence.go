package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// EvidenceKind tags one item of proof.
type EvidenceKind string

const (
	EvidenceImage       EvidenceKind = "image"
	EvidenceTransaction EvidenceKind = "transaction"
	EvidenceURL         EvidenceKind = "url"
	EvidenceText        EvidenceKind = "text"
)

// Chain names the ledger a transaction reference belongs to.
type Chain string

const (
	ChainStellar  Chain = "stellar"
	ChainEthereum Chain = "ethereum"
	ChainOther    Chain = "other"
)

const (
	MaxEvidenceItems = 20
	MaxTextLength    = 4000
	maxRefLength     = 2048
)

var (
	stellarTxPattern  = regexp.MustCompile(`^[A-Fa-f0-9]{64}$`)
	ethereumTxPattern = regexp.MustCompile(`^0x[A-Fa-f0-9]{64}$`)
	httpPrefix        = regexp.MustCompile(`(?i)^https?://`)
)

// Evidence is one tagged proof item. Ref holds the reference for image,
// transaction and url kinds, and the body for text.
type Evidence struct {
	Kind  EvidenceKind `json:"kind"`
	Ref   string       `json:"ref"`
	Chain Chain        `json:"chain,omitempty"`
	Note  string       `json:"note,omitempty"`
}

// PriceClaim is a price the executor says they traded at.
type PriceClaim struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Proof is what an executor submits for verification.
type Proof struct {
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Evidence    []Evidence      `json:"evidence"`
	PnL         decimal.Decimal `json:"pnl"`
	PriceClaims []PriceClaim    `json:"price_claims,omitempty"`
}

// DetectEvidence classifies free-form content the way the submission form
// does: bare 64-hex is a Stellar hash, 0x-prefixed is Ethereum, then URLs,
// then text.
func DetectEvidence(content string) Evidence {
	c := strings.TrimSpace(content)
	switch {
	case stellarTxPattern.MatchString(c):
		return Evidence{Kind: EvidenceTransaction, Ref: c, Chain: ChainStellar}
	case ethereumTxPattern.MatchString(c):
		return Evidence{Kind: EvidenceTransaction, Ref: c, Chain: ChainEthereum}
	case httpPrefix.MatchString(c):
		return Evidence{Kind: EvidenceURL, Ref: c}
	default:
		return Evidence{Kind: EvidenceText, Ref: c}
	}
}

// Validate checks e against the rules for its kind.
func (e Evidence) Validate() error {
	ref := strings.TrimSpace(e.Ref)
	if ref == "" {
		return ErrInvalidEvidence.With("%s evidence has empty ref", e.Kind)
	}
	switch e.Kind {
	case EvidenceTransaction:
		return validateTxRef(ref, e.Chain)
	case EvidenceURL:
		return validateURL(ref, "http", "https")
	case EvidenceImage:
		return validateURL(ref, "http", "https", "ipfs")
	case EvidenceText:
		if len(ref) > MaxTextLength {
			return ErrInvalidEvidence.With("text evidence longer than %d bytes", MaxTextLength)
		}
		return nil
	default:
		return ErrInvalidEvidence.With("unknown evidence kind %q", e.Kind)
	}
}

func validateTxRef(ref string, chain Chain) error {
	switch chain {
	case ChainStellar:
		if !stellarTxPattern.MatchString(ref) {
			return ErrInvalidEvidence.With("malformed stellar tx hash")
		}
	case ChainEthereum:
		if !ethereumTxPattern.MatchString(ref) {
			return ErrInvalidEvidence.With("malformed ethereum tx hash")
		}
	case ChainOther, "":
		if len(ref) > maxRefLength || strings.ContainsAny(ref, " \t\n") {
			return ErrInvalidEvidence.With("malformed tx reference")
		}
	default:
		return ErrInvalidEvidence.With("unknown chain %q", chain)
	}
	return nil
}

func validateURL(ref string, schemes ...string) error {
	if len(ref) > maxRefLength {
		return ErrInvalidEvidence.With("reference longer than %d bytes", maxRefLength)
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return ErrInvalidEvidence.With("malformed url %q", ref)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if scheme == s {
			return nil
		}
	}
	return ErrInvalidEvidence.With("scheme %q not allowed", u.Scheme)
}

// Validate checks the whole proof. Price claims must name an asset and a
// positive price; the oracle comparison happens during verification.
func (p Proof) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return ErrInvalidEvidence.With("title is required")
	}
	if len(p.Evidence) == 0 {
		return ErrInvalidEvidence.With("at least one evidence item is required")
	}
	if len(p.Evidence) > MaxEvidenceItems {
		return ErrInvalidEvidence.With("more than %d evidence items", MaxEvidenceItems)
	}
	for i, e := range p.Evidence {
		if err := e.Validate(); err != nil {
			return ErrInvalidEvidence.With("item %d: %s", i, err.Error())
		}
	}
	for i, c := range p.PriceClaims {
		if strings.TrimSpace(c.Asset) == "" {
			return ErrInvalidEvidence.With("price claim %d: asset is required", i)
		}
		if !c.Price.IsPositive() {
			return ErrInvalidEvidence.With("price claim %d: price must be positive", i)
		}
	}
	return nil
}

// Hash is a stable digest of the proof, used to key cached verdicts.
func (p Proof) Hash() string {
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
