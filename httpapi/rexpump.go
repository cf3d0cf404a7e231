package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/tokenmeta"
)

// resolvedMetadataResponse is tokenmeta.Response with media ids resolved to
// URLs, since only httpapi knows the base URL (§9's process-context note:
// tokenmeta stays ignorant of HTTP).
type resolvedMetadataResponse struct {
	tokenmeta.Response
	ImageLightURL string `json:"image_light_url,omitempty"`
	ImageDarkURL  string `json:"image_dark_url,omitempty"`
}

func (s *AppState) resolveMetadataResponse(r *http.Request, resp tokenmeta.Response, lightID, darkID string) resolvedMetadataResponse {
	out := resolvedMetadataResponse{Response: resp}
	if lightID != "" {
		if _, err := s.Medias.Get(lightID); err == nil {
			out.ImageLightURL = s.mediaURL(r, lightID)
		}
	}
	if darkID != "" {
		if _, err := s.Medias.Get(darkID); err == nil {
			out.ImageDarkURL = s.mediaURL(r, darkID)
		}
	}
	return out
}

func pathChainID(r *http.Request) (uint64, error) {
	chainID, err := strconv.ParseUint(r.PathValue("chain_id"), 10, 64)
	if err != nil {
		return 0, apperr.Validation("chain_id must be a positive integer")
	}
	return chainID, nil
}

// handleGetMetadata implements GET /api/rexpump/metadata/{chain_id}/{token_address}.
func (s *AppState) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	chainID, err := pathChainID(r)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	tokenAddress := r.PathValue("token_address")

	resp, lightID, darkID, err := s.Tokens.GetMetadata(chainID, tokenAddress)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, s.resolveMetadataResponse(r, resp, lightID, darkID))
}

type signedUpdateBody struct {
	TokenOwner string              `json:"token_owner"`
	Timestamp  int64               `json:"timestamp"`
	Signature  string              `json:"signature"`
	Metadata   *tokenmeta.Input    `json:"metadata,omitempty"`
	ImageLight *base64Image        `json:"image_light,omitempty"`
	ImageDark  *base64Image        `json:"image_dark,omitempty"`
}

// base64Image carries an inline image as base64, the JSON-API equivalent of
// a multipart field, used by the signed update endpoint so the whole
// request can be a single signed JSON body.
type base64Image struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

func (b *base64Image) decode() ([]byte, string, error) {
	if b == nil {
		return nil, "", nil
	}
	data, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, "", apperr.Validation("image data is not valid base64")
	}
	return data, b.Filename, nil
}

// handlePostMetadata implements POST /api/rexpump/metadata/{chain_id}/{token_address}:
// the full signed update pipeline of §4.F.
func (s *AppState) handlePostMetadata(w http.ResponseWriter, r *http.Request) {
	chainID, err := pathChainID(r)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	tokenAddress := r.PathValue("token_address")

	var body signedUpdateBody
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logErr, apperr.Validation("invalid JSON body"))
		return
	}

	lightBytes, lightName, err := body.ImageLight.decode()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	darkBytes, darkName, err := body.ImageDark.decode()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}

	req := tokenmeta.SignedUpdateRequest{
		ChainID: chainID, TokenAddress: tokenAddress,
		TokenOwner: body.TokenOwner, Timestamp: body.Timestamp, Signature: body.Signature,
		Metadata:   body.Metadata,
		ImageLight: lightBytes, ImageLightFilename: lightName,
		ImageDark: darkBytes, ImageDarkFilename: darkName,
	}

	resp, lightID, darkID, err := s.Tokens.UpsertMetadata(r.Context(), req, time.Now())
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, s.resolveMetadataResponse(r, resp, lightID, darkID))
}

type adminLockBody struct {
	Kind   tokenmeta.LockKind `json:"kind"`
	Reason string             `json:"reason"`
	Admin  string             `json:"admin"`
}

// handleAdminLockToken implements POST /admin/rexpump/{chain_id}/{token_address}/lock.
func (s *AppState) handleAdminLockToken(w http.ResponseWriter, r *http.Request) {
	chainID, err := pathChainID(r)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	tokenAddress := r.PathValue("token_address")

	var body adminLockBody
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logErr, apperr.Validation("invalid JSON body"))
		return
	}
	if body.Kind == "" {
		body.Kind = tokenmeta.LockKindLocked
	}

	if err := s.Tokens.AdminLock(chainID, tokenAddress, body.Kind, body.Reason, body.Admin, time.Now()); err != nil {
		writeError(w, s.logErr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminUnlockToken implements POST /admin/rexpump/{chain_id}/{token_address}/unlock.
func (s *AppState) handleAdminUnlockToken(w http.ResponseWriter, r *http.Request) {
	chainID, err := pathChainID(r)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	tokenAddress := r.PathValue("token_address")

	if err := s.Tokens.AdminUnlock(chainID, tokenAddress, time.Now()); err != nil {
		writeError(w, s.logErr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminUpdateBody struct {
	Description      *string             `json:"description,omitempty"`
	SocialNetworks    *[]tokenmeta.SocialNetwork `json:"social_networks,omitempty"`
	ImageLight        *base64Image        `json:"image_light,omitempty"`
	RemoveImageLight  bool                `json:"remove_image_light,omitempty"`
	ImageDark         *base64Image        `json:"image_dark,omitempty"`
	RemoveImageDark   bool                `json:"remove_image_dark,omitempty"`
	Admin             string              `json:"admin"`
}

// handleAdminUpdateToken implements PATCH /admin/rexpump/{chain_id}/{token_address}:
// the admin override path, bypassing signature/ownership/cooldown checks.
func (s *AppState) handleAdminUpdateToken(w http.ResponseWriter, r *http.Request) {
	chainID, err := pathChainID(r)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	tokenAddress := r.PathValue("token_address")

	var body adminUpdateBody
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logErr, apperr.Validation("invalid JSON body"))
		return
	}

	lightBytes, lightName, err := body.ImageLight.decode()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	darkBytes, darkName, err := body.ImageDark.decode()
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}

	resp, lightID, darkID, err := s.Tokens.AdminUpdate(tokenmeta.AdminUpdateRequest{
		Description: body.Description, SocialNetworks: body.SocialNetworks,
		ImageLight: lightBytes, ImageLightFilename: lightName, RemoveImageLight: body.RemoveImageLight,
		ImageDark: darkBytes, ImageDarkFilename: darkName, RemoveImageDark: body.RemoveImageDark,
		UpdatedBy: body.Admin,
	}, chainID, tokenAddress, time.Now())
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	writeJSON(w, http.StatusOK, s.resolveMetadataResponse(r, resp, lightID, darkID))
}

// handleAdminDeleteToken implements DELETE /admin/rexpump/{chain_id}/{token_address}.
func (s *AppState) handleAdminDeleteToken(w http.ResponseWriter, r *http.Request) {
	chainID, err := pathChainID(r)
	if err != nil {
		writeError(w, s.logErr, err)
		return
	}
	tokenAddress := r.PathValue("token_address")

	if err := s.Tokens.AdminDelete(chainID, tokenAddress); err != nil {
		writeError(w, s.logErr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
