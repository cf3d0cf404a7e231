// Package tokenmeta implements §4.F: signature-verified per-token
// metadata records with admin lock states and linked image blobs.
// Grounded on original_source's models/token_metadata.rs and
// handlers/rexpump.rs, translated into the teacher's idiom.
package tokenmeta

import (
	"fmt"
	"strings"
	"time"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/evmsig"
)

const (
	MaxDescriptionLength = 255
	MaxSocialNameLength  = 32
	MaxSocialLinkLength  = 256

	DefaultDescription = ""
)

// SocialNetwork is one entry of the ordered social_networks list (§3).
type SocialNetwork struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// LockKind is the admin lock state variant of §3.
type LockKind string

const (
	LockKindLocked              LockKind = "locked"
	LockKindLockedWithDefaults  LockKind = "locked_with_defaults"
)

type Lock struct {
	Kind     LockKind  `json:"kind"`
	Reason   string    `json:"reason,omitempty"`
	LockedAt time.Time `json:"locked_at"`
	LockedBy string    `json:"locked_by"`
}

// Metadata is the token_metadata record of §3.
type Metadata struct {
	ChainID        uint64          `json:"chain_id"`
	TokenAddress   string          `json:"token_address"` // lowercased
	Description    string          `json:"description"`
	SocialNetworks []SocialNetwork `json:"social_networks"`
	ImageLightID   string          `json:"image_light_id,omitempty"`
	ImageDarkID    string          `json:"image_dark_id,omitempty"`
	Owner          string          `json:"owner,omitempty"`
	LastUpdateAt   time.Time       `json:"last_update_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastUpdateBy   string          `json:"last_update_by,omitempty"`
}

// StorageKey mirrors token_metadata.rs's make_key: "{chain_id}:{address}".
func StorageKey(chainID uint64, tokenAddress string) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(tokenAddress))
}

func (m Metadata) StorageKey() string { return StorageKey(m.ChainID, m.TokenAddress) }

func newDefault(chainID uint64, tokenAddress string, now time.Time) Metadata {
	return Metadata{
		ChainID: chainID, TokenAddress: strings.ToLower(tokenAddress),
		Description: DefaultDescription, SocialNetworks: []SocialNetwork{},
		CreatedAt: now, UpdatedAt: now,
	}
}

// Input is the mutating subset of a metadata update (§4.F's `metadata`
// field).
type Input struct {
	Description    string          `json:"description"`
	SocialNetworks []SocialNetwork `json:"social_networks"`
}

// Validate mirrors validate_metadata_input: description length and each
// social network's name/link constraints.
func (in Input) Validate() error {
	if len(in.Description) > MaxDescriptionLength {
		return apperr.Validation(fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
	}
	for _, sn := range in.SocialNetworks {
		if sn.Name == "" || len(sn.Name) > MaxSocialNameLength {
			return apperr.Validation(fmt.Sprintf("social network name must be 1-%d characters", MaxSocialNameLength))
		}
		if sn.Link == "" || len(sn.Link) > MaxSocialLinkLength {
			return apperr.Validation(fmt.Sprintf("social network link must be 1-%d characters", MaxSocialLinkLength))
		}
		if !strings.HasPrefix(sn.Link, "http://") && !strings.HasPrefix(sn.Link, "https://") {
			return apperr.Validation("social network link must start with http:// or https://")
		}
	}
	return nil
}

// Response is the public-facing projection (§6), with media ids resolved
// to URLs by the caller (httpapi, which knows the base URL).
type Response struct {
	ChainID        uint64          `json:"chain_id"`
	TokenAddress   string          `json:"token_address"`
	Description    string          `json:"description"`
	SocialNetworks []SocialNetwork `json:"social_networks"`
	ImageLightURL  string          `json:"image_light_url,omitempty"`
	ImageDarkURL   string          `json:"image_dark_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DefaultLockedResponse mirrors MetadataResponse::default_locked: a
// locked_with_defaults token always reports the configured default
// description and no images, regardless of what is stored.
func DefaultLockedResponse(chainID uint64, tokenAddress string) Response {
	return Response{
		ChainID: chainID, TokenAddress: strings.ToLower(tokenAddress),
		Description: DefaultDescription, SocialNetworks: []SocialNetwork{},
	}
}

// SignedUpdateRequest is the POST body of §4.F's signed update.
type SignedUpdateRequest struct {
	ChainID      uint64
	TokenAddress string
	TokenOwner   string
	Timestamp    int64
	Signature    string
	Metadata     *Input
	ImageLight   []byte
	ImageLightFilename string
	ImageDark    []byte
	ImageDarkFilename  string
}

func (r SignedUpdateRequest) hasAnyMutation() bool {
	return r.Metadata != nil || r.ImageLight != nil || r.ImageDark != nil
}

// VerifySignature runs steps 1-2 of §4.F's verification pipeline:
// timestamp freshness then EIP-191 signer recovery, resolved toward
// spec.md's symmetric skew rule (SPEC_FULL.md §4 item 4).
func VerifySignature(r SignedUpdateRequest, maxAgeSeconds int64, now time.Time) error {
	delta := now.Unix() - r.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > maxAgeSeconds {
		return apperr.InvalidSignature("signature timestamp is outside the allowed window")
	}

	message := evmsig.BuildSignMessage(r.ChainID, r.TokenAddress, r.Timestamp)
	signer, err := evmsig.RecoverSigner(message, r.Signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer, r.TokenOwner) {
		return apperr.InvalidSignature("recovered signer does not match token_owner")
	}
	return nil
}
