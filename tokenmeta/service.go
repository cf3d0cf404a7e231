package tokenmeta

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/evmsig"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/upload"
)

// NetworkResolver answers whether a chain is supported and what RPC URLs
// serve it, satisfied by config.RexpumpConfig.
type NetworkResolver interface {
	IsChainSupported(chainID uint64) bool
	RPCURLs(chainID uint64) (primary, fallback string)
}

// Service implements §4.F's full pipeline: signature verification, on-chain
// ownership check, lock/cooldown gating, image ingestion, and the admin
// override operations. Grounded on handlers/rexpump.rs and
// services/rexpump_service.rs.
type Service struct {
	store            *Store
	evm              *evmsig.Client
	images           *upload.Engine
	medias           *media.Store
	blobs            *blobstore.Store
	networks         NetworkResolver
	sigMaxAgeSeconds int64
	cooldown         time.Duration
	log              zerolog.Logger
}

func NewService(store *Store, evm *evmsig.Client, images *upload.Engine, medias *media.Store, blobs *blobstore.Store, networks NetworkResolver, sigMaxAgeSeconds int64, cooldown time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:            store,
		evm:              evm,
		images:           images,
		medias:           medias,
		blobs:            blobs,
		networks:         networks,
		sigMaxAgeSeconds: sigMaxAgeSeconds,
		cooldown:         cooldown,
		log:              log,
	}
}

// toResponse leaves the image URLs empty: httpapi's resolveMetadataResponse
// fills them in, since only httpapi knows the base URL; the service only
// ever deals in media ids.
func toResponse(m Metadata) Response {
	return Response{
		ChainID:        m.ChainID,
		TokenAddress:   m.TokenAddress,
		Description:    m.Description,
		SocialNetworks: m.SocialNetworks,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// GetMetadata implements the read path of §4.F: a locked_with_defaults
// token always reports the configured defaults regardless of what is
// stored, and callers resolve ImageLightID/ImageDarkID to URLs themselves.
func (s *Service) GetMetadata(chainID uint64, tokenAddress string) (Response, string, string, error) {
	lock, err := s.store.GetLock(chainID, tokenAddress)
	if err != nil {
		return Response{}, "", "", err
	}
	if lock != nil && lock.Kind == LockKindLockedWithDefaults {
		return DefaultLockedResponse(chainID, tokenAddress), "", "", nil
	}

	m, found, err := s.store.Get(chainID, tokenAddress)
	if err != nil {
		return Response{}, "", "", err
	}
	if !found {
		return DefaultLockedResponse(chainID, tokenAddress), "", "", nil
	}
	return toResponse(*m), m.ImageLightID, m.ImageDarkID, nil
}

// UpsertMetadata implements the signed update path of §4.F: chain support,
// signature, on-chain ownership, lock, and cooldown checks, in that order,
// then image ingestion and the record write.
func (s *Service) UpsertMetadata(ctx context.Context, r SignedUpdateRequest, now time.Time) (Response, string, string, error) {
	if !s.networks.IsChainSupported(r.ChainID) {
		return Response{}, "", "", apperr.Validation("chain_id is not supported")
	}
	if r.Metadata != nil {
		if err := r.Metadata.Validate(); err != nil {
			return Response{}, "", "", err
		}
	}
	if !r.hasAnyMutation() {
		return Response{}, "", "", apperr.Validation("request must mutate at least one field")
	}

	if err := VerifySignature(r, s.sigMaxAgeSeconds, now); err != nil {
		return Response{}, "", "", err
	}

	primary, fallback := s.networks.RPCURLs(r.ChainID)
	if err := s.evm.VerifyTokenOwner(ctx, primary, fallback, r.TokenAddress, r.TokenOwner); err != nil {
		return Response{}, "", "", err
	}

	lock, err := s.store.GetLock(r.ChainID, r.TokenAddress)
	if err != nil {
		return Response{}, "", "", err
	}
	if lock != nil {
		return Response{}, "", "", apperr.TokenLocked("token metadata is locked by an administrator")
	}

	existing, err := s.store.GetOrCreate(r.ChainID, r.TokenAddress, now)
	if err != nil {
		return Response{}, "", "", err
	}

	canUpdate, remaining, err := s.store.CanUpdate(r.ChainID, r.TokenAddress, s.cooldown, now)
	if err != nil {
		return Response{}, "", "", err
	}
	if !canUpdate {
		return Response{}, "", "", apperr.UpdateCooldown(formatCooldown(remaining))
	}

	updated := existing
	updated.Owner = r.TokenOwner
	updated.LastUpdateAt = now
	updated.UpdatedAt = now
	updated.LastUpdateBy = r.TokenOwner

	if r.Metadata != nil {
		updated.Description = r.Metadata.Description
		updated.SocialNetworks = r.Metadata.SocialNetworks
	}

	oldLight, oldDark := existing.ImageLightID, existing.ImageDarkID

	if r.ImageLight != nil {
		m, err := s.images.IngestBytes(r.ImageLight, r.ImageLightFilename)
		if err != nil {
			return Response{}, "", "", err
		}
		updated.ImageLightID = m.ID
	}
	if r.ImageDark != nil {
		m, err := s.images.IngestBytes(r.ImageDark, r.ImageDarkFilename)
		if err != nil {
			return Response{}, "", "", err
		}
		updated.ImageDarkID = m.ID
	}

	if err := s.store.Put(updated); err != nil {
		return Response{}, "", "", err
	}
	if err := s.store.RecordUpdate(r.ChainID, r.TokenAddress, now); err != nil {
		return Response{}, "", "", err
	}

	if oldLight != "" && oldLight != updated.ImageLightID {
		s.deleteMedia(oldLight)
	}
	if oldDark != "" && oldDark != updated.ImageDarkID {
		s.deleteMedia(oldDark)
	}

	return toResponse(updated), updated.ImageLightID, updated.ImageDarkID, nil
}

// deleteMedia removes a superseded image's blob and record. Failures are
// logged, not returned: a stale blob left behind is a cleanup nuisance, not
// a reason to fail the metadata write that already succeeded, mirroring
// original_source's delete_media_files.
func (s *Service) deleteMedia(id string) {
	m, err := s.medias.Get(id)
	if err != nil {
		if e, ok := apperr.As(err); !ok || e.Kind != apperr.KindNotFound {
			s.log.Warn().Str("media_id", id).Err(err).Msg("failed to look up superseded media record")
		}
		return
	}
	if err := s.blobs.Delete(m.ID, m.OriginalStorageFilename(), m.OptimizedStorageFilename()); err != nil {
		s.log.Warn().Str("media_id", id).Err(err).Msg("failed to delete superseded media files")
	}
	if err := s.medias.Delete(id); err != nil {
		s.log.Warn().Str("media_id", id).Err(err).Msg("failed to delete superseded media record")
	}
}

// AdminLock implements the admin lock operation of §4.F. Locking with
// locked_with_defaults additionally wipes the stored description, social
// links, and images: the token reports the configured defaults from then
// on, and the old images are deleted rather than left dangling. The lock
// itself is persisted in its own namespace (Store.PutLock), not on the
// metadata record, so it survives an admin delete of that record.
func (s *Service) AdminLock(chainID uint64, tokenAddress string, kind LockKind, reason, lockedBy string, now time.Time) error {
	if kind == LockKindLockedWithDefaults {
		m, found, err := s.store.Get(chainID, tokenAddress)
		if err != nil {
			return err
		}
		if found {
			if m.ImageLightID != "" {
				s.deleteMedia(m.ImageLightID)
			}
			if m.ImageDarkID != "" {
				s.deleteMedia(m.ImageDarkID)
			}
		}
		empty := newDefault(chainID, tokenAddress, now)
		empty.LastUpdateBy = lockedBy
		if err := s.store.Put(empty); err != nil {
			return err
		}
	}

	lock := Lock{Kind: kind, Reason: reason, LockedAt: now, LockedBy: lockedBy}
	return s.store.PutLock(chainID, tokenAddress, lock)
}

// AdminUnlock implements the admin unlock operation of §4.F.
func (s *Service) AdminUnlock(chainID uint64, tokenAddress string, now time.Time) error {
	lock, err := s.store.GetLock(chainID, tokenAddress)
	if err != nil {
		return err
	}
	if lock == nil {
		return apperr.NotFound("token is not locked")
	}
	return s.store.DeleteLock(chainID, tokenAddress)
}

// AdminUpdateRequest bypasses signature verification and cooldown, per
// §4.F's admin override; image removal is explicit via RemoveImageLight/
// RemoveImageDark since a nil byte slice only means "leave unchanged".
type AdminUpdateRequest struct {
	Description      *string
	SocialNetworks    *[]SocialNetwork
	ImageLight        []byte
	ImageLightFilename string
	RemoveImageLight  bool
	ImageDark         []byte
	ImageDarkFilename string
	RemoveImageDark   bool
	UpdatedBy         string
}

// AdminUpdate implements the admin update operation of §4.F: same mutation
// surface as the signed path but skips the signature/ownership/cooldown
// checks, and skips the lock check entirely, including on a
// locked_with_defaults token — lock removal is a separate explicit action
// (AdminUnlock), matching original_source's admin_update_metadata, which
// never consults the lock table.
func (s *Service) AdminUpdate(r AdminUpdateRequest, chainID uint64, tokenAddress string, now time.Time) (Response, string, string, error) {
	m, err := s.store.GetOrCreate(chainID, tokenAddress, now)
	if err != nil {
		return Response{}, "", "", err
	}

	if r.Description != nil {
		m.Description = *r.Description
	}
	if r.SocialNetworks != nil {
		m.SocialNetworks = *r.SocialNetworks
	}

	if r.RemoveImageLight {
		if m.ImageLightID != "" {
			s.deleteMedia(m.ImageLightID)
		}
		m.ImageLightID = ""
	} else if r.ImageLight != nil {
		oldID := m.ImageLightID
		img, err := s.images.IngestBytes(r.ImageLight, r.ImageLightFilename)
		if err != nil {
			return Response{}, "", "", err
		}
		m.ImageLightID = img.ID
		if oldID != "" && oldID != m.ImageLightID {
			s.deleteMedia(oldID)
		}
	}
	if r.RemoveImageDark {
		if m.ImageDarkID != "" {
			s.deleteMedia(m.ImageDarkID)
		}
		m.ImageDarkID = ""
	} else if r.ImageDark != nil {
		oldID := m.ImageDarkID
		img, err := s.images.IngestBytes(r.ImageDark, r.ImageDarkFilename)
		if err != nil {
			return Response{}, "", "", err
		}
		m.ImageDarkID = img.ID
		if oldID != "" && oldID != m.ImageDarkID {
			s.deleteMedia(oldID)
		}
	}

	m.UpdatedAt = now
	m.LastUpdateBy = r.UpdatedBy
	if err := s.store.Put(m); err != nil {
		return Response{}, "", "", err
	}
	return toResponse(m), m.ImageLightID, m.ImageDarkID, nil
}

// AdminDelete implements the admin delete operation of §4.F: deletes the
// record's images and then the record itself. The lock, if any, lives in
// its own namespace and is deliberately untouched — an admin lock outlives
// the record it was placed on, matching original_source's
// admin_delete_metadata, which never calls unlock_token.
func (s *Service) AdminDelete(chainID uint64, tokenAddress string) error {
	m, found, err := s.store.Get(chainID, tokenAddress)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFound("token metadata not found")
	}
	if m.ImageLightID != "" {
		s.deleteMedia(m.ImageLightID)
	}
	if m.ImageDarkID != "" {
		s.deleteMedia(m.ImageDarkID)
	}
	return s.store.Delete(chainID, tokenAddress)
}

// AssociatedMedia returns the media records a token's images currently
// point at, for callers that need sizes/mime types for a response.
func (s *Service) AssociatedMedia(m Metadata, medias *media.Store) (light, dark *media.Media, err error) {
	if m.ImageLightID != "" {
		light, err = medias.Get(m.ImageLightID)
		if err != nil {
			return nil, nil, err
		}
	}
	if m.ImageDarkID != "" {
		dark, err = medias.Get(m.ImageDarkID)
		if err != nil {
			return nil, nil, err
		}
	}
	return light, dark, nil
}

func formatCooldown(remaining time.Duration) string {
	seconds := int64(remaining.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("update cooldown active, try again in %d seconds", seconds)
}
