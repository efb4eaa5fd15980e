// Package events defines the auction lifecycle contract shared by every
// service: the four event payloads, the envelope that carries them on the bus,
// and the validation rules a consumer applies before touching its own state.
//
// Delivery is at-least-once. Events for different auctions are unordered and
// events for the same auction are ordered only on a best-effort basis, so the
// optional Version is the only ordering information a consumer may rely on.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-lifecycle/internal/biddingerrors"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/utils"
)

// Tag discriminates the lifecycle event carried by an envelope.
type Tag string

const (
	TagCreated  Tag = "AuctionCreated"
	TagUpdated  Tag = "AuctionUpdated"
	TagDeleted  Tag = "AuctionDeleted"
	TagFinished Tag = "AuctionFinished"
)

// Tags lists every tag in the contract.
var Tags = []Tag{TagCreated, TagUpdated, TagDeleted, TagFinished}

// Valid reports whether t is part of the contract.
func (t Tag) Valid() bool {
	switch t {
	case TagCreated, TagUpdated, TagDeleted, TagFinished:
		return true
	}
	return false
}

// PoisonModel can never be sold; consumers reject it permanently.
const PoisonModel = "Foo"

const (
	minYear = 1900
	maxYear = 2100
)

// Envelope is the wire unit published on the bus.
type Envelope struct {
	MessageID  string          `json:"messageId"`
	Tag        Tag             `json:"tag"`
	AuctionID  string          `json:"auctionId"`
	Version    *int64          `json:"version,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// AuctionCreated carries the full snapshot of a new auction.
type AuctionCreated struct {
	AuctionID    string    `json:"auctionId"`
	Seller       string    `json:"seller"`
	ReservePrice int64     `json:"reservePrice"`
	AuctionEnd   time.Time `json:"auctionEnd"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Color        string    `json:"color"`
	Mileage      int       `json:"mileage"`
	Year         int       `json:"year"`
	ImageURL     string    `json:"imageUrl,omitempty"`
}

// AuctionUpdated carries only the item fields the seller changed.
type AuctionUpdated struct {
	AuctionID string                  `json:"auctionId"`
	Make      models.Optional[string] `json:"make,omitzero"`
	Model     models.Optional[string] `json:"model,omitzero"`
	Color     models.Optional[string] `json:"color,omitzero"`
	Mileage   models.Optional[int]    `json:"mileage,omitzero"`
	Year      models.Optional[int]    `json:"year,omitzero"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// AuctionDeleted carries the identifier only.
type AuctionDeleted struct {
	AuctionID string `json:"auctionId"`
}

// AuctionFinished is emitted once per auction by the finalization scheduler.
type AuctionFinished struct {
	AuctionID string  `json:"auctionId"`
	ItemSold  bool    `json:"itemSold"`
	Winner    *string `json:"winner"`
	Amount    *int64  `json:"amount"`
	Seller    string  `json:"seller"`
}

// Patch returns the update as an item patch.
func (u AuctionUpdated) Patch() models.ItemPatch {
	return models.ItemPatch{Make: u.Make, Model: u.Model, Color: u.Color, Mileage: u.Mileage, Year: u.Year}
}

// NewEnvelope encodes payload under a fresh message id.
func NewEnvelope(tag Tag, auctionID string, version *int64, occurredAt time.Time, payload any) (Envelope, error) {
	if !tag.Valid() {
		return Envelope{}, fmt.Errorf("events: unknown tag %q", tag)
	}
	if strings.TrimSpace(auctionID) == "" {
		return Envelope{}, errors.New("events: auction id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s payload: %w", tag, err)
	}
	return Envelope{
		MessageID:  utils.GenerateID(),
		Tag:        tag,
		AuctionID:  auctionID,
		Version:    version,
		OccurredAt: occurredAt.UTC(),
		Payload:    raw,
	}, nil
}

// Encode returns the wire form of env.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope parses and structurally checks a wire envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %v: %w", err, biddingerrors.ErrUnprocessable)
	}
	if !env.Tag.Valid() {
		return Envelope{}, fmt.Errorf("events: unknown tag %q: %w", env.Tag, biddingerrors.ErrUnprocessable)
	}
	if strings.TrimSpace(env.AuctionID) == "" {
		return Envelope{}, fmt.Errorf("events: missing auction id: %w", biddingerrors.ErrUnprocessable)
	}
	return env, nil
}

// VersionOf returns the envelope version, or 0 when the producer sent none.
func VersionOf(env Envelope) int64 {
	if env.Version == nil {
		return 0
	}
	return *env.Version
}

func decode[T any](env Envelope, want Tag, auctionID func(T) string) (T, error) {
	var out T
	if env.Tag != want {
		return out, fmt.Errorf("events: expected %s, got %s: %w", want, env.Tag, biddingerrors.ErrUnprocessable)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("events: decode %s payload: %v: %w", want, err, biddingerrors.ErrUnprocessable)
	}
	if id := auctionID(out); id != env.AuctionID {
		return out, fmt.Errorf("events: %s payload auction %q does not match envelope %q: %w", want, id, env.AuctionID, biddingerrors.ErrUnprocessable)
	}
	return out, nil
}

// DecodeCreated decodes and validates a Created payload.
func DecodeCreated(env Envelope) (AuctionCreated, error) {
	e, err := decode(env, TagCreated, func(e AuctionCreated) string { return e.AuctionID })
	if err != nil {
		return e, err
	}
	return e, unprocessable(TagCreated, e.Validate())
}

// DecodeUpdated decodes and validates an Updated payload.
func DecodeUpdated(env Envelope) (AuctionUpdated, error) {
	e, err := decode(env, TagUpdated, func(e AuctionUpdated) string { return e.AuctionID })
	if err != nil {
		return e, err
	}
	return e, unprocessable(TagUpdated, e.Validate())
}

// DecodeDeleted decodes a Deleted payload.
func DecodeDeleted(env Envelope) (AuctionDeleted, error) {
	return decode(env, TagDeleted, func(e AuctionDeleted) string { return e.AuctionID })
}

// DecodeFinished decodes and validates a Finished payload.
func DecodeFinished(env Envelope) (AuctionFinished, error) {
	e, err := decode(env, TagFinished, func(e AuctionFinished) string { return e.AuctionID })
	if err != nil {
		return e, err
	}
	return e, unprocessable(TagFinished, e.Validate())
}

func unprocessable(tag Tag, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("events: invalid %s: %v: %w", tag, err, biddingerrors.ErrUnprocessable)
}
