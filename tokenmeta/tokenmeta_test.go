package tokenmeta

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/blobstore"
	"github.com/rexpump/media-upload-server-public/evmsig"
	"github.com/rexpump/media-upload-server-public/imagepipe"
	"github.com/rexpump/media-upload-server-public/media"
	"github.com/rexpump/media-upload-server-public/metastore"
	"github.com/rexpump/media-upload-server-public/upload"
)

// fakeResolver reports a single supported chain so UpsertMetadata's
// on-chain step can be exercised without a live RPC endpoint.
type fakeResolver struct {
	chainID            uint64
	primary, fallback  string
}

func (f fakeResolver) IsChainSupported(chainID uint64) bool { return chainID == f.chainID }
func (f fakeResolver) RPCURLs(chainID uint64) (string, string) {
	if chainID != f.chainID {
		return "", ""
	}
	return f.primary, f.fallback
}

func newTestService(t *testing.T, cooldown time.Duration) (*Service, *Store, *media.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "tokenmeta-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	meta, err := metastore.Open(dir+"/db", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.New(dir+"/blobs", 2)
	require.NoError(t, err)

	engine := upload.NewEngine(upload.Config{
		MaxSimpleUploadSize: 10 << 20, MaxChunkedUploadSize: 10 << 20,
		ChunkSize:         5 << 20,
		SessionTimeout:    time.Hour,
		AllowedImageTypes: []string{"image/png"},
		MaxImageDimension: 2048, StripExif: true,
		OutputFormat: "webp", OutputQuality: 85, KeepOriginals: true,
	}, upload.NewSessionStore(meta), media.NewStore(meta), blobs, imagepipe.NewPool(2), zerolog.Nop())

	medias := media.NewStore(meta)
	store := NewStore(meta)
	// the resolver has no RPC URLs, so no real endpoint is dialed; a test
	// whose signed update reaches the on-chain ownership check (which runs
	// before the lock and cooldown checks) stubs the resolver with an
	// httptest server.
	resolver := fakeResolver{chainID: 1}
	svc := NewService(store, evmsig.NewClient(), engine, medias, blobs, resolver, 300, cooldown, zerolog.Nop())
	return svc, store, medias
}

func redPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// eip191DigestForTest and addressForTest duplicate evmsig's unexported
// hashing/address-derivation so tests here can sign a message the same way
// a wallet would, without reaching into evmsig's internals.
func eip191DigestForTest(message string) [32]byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefixed))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func addressForTest(priv *secp256k1.PrivateKey) string {
	uncompressed := priv.PubKey().SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

func signRequest(t *testing.T, priv *secp256k1.PrivateKey, chainID uint64, tokenAddress string, timestamp int64) (owner, signatureHex string) {
	t.Helper()
	message := evmsig.BuildSignMessage(chainID, tokenAddress, timestamp)
	digest := eip191DigestForTest(message)
	sig := ecdsa.SignCompact(priv, digest[:], false)
	out := make([]byte, 65)
	copy(out[:64], sig[1:])
	out[64] = sig[0] - 27
	return addressForTest(priv), "0x" + hex.EncodeToString(out)
}

func TestVerifySignatureAcceptsFreshMatchingSignature(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	owner, sig := signRequest(t, priv, 1, "0x0000000000000000000000000000000000c0de", now.Unix())

	req := SignedUpdateRequest{
		ChainID: 1, TokenAddress: "0x0000000000000000000000000000000000c0de",
		TokenOwner: owner, Timestamp: now.Unix(), Signature: sig,
		Metadata: &Input{Description: "hi", SocialNetworks: []SocialNetwork{}},
	}
	require.NoError(t, VerifySignature(req, 300, now))
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	signedAt := int64(1700000000)
	owner, sig := signRequest(t, priv, 1, "0x0000000000000000000000000000000000c0de", signedAt)

	req := SignedUpdateRequest{
		ChainID: 1, TokenAddress: "0x0000000000000000000000000000000000c0de",
		TokenOwner: owner, Timestamp: signedAt, Signature: sig,
		Metadata: &Input{Description: "hi"},
	}
	err = VerifySignature(req, 300, time.Unix(signedAt+301, 0))
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindInvalidSignature, appErr.Kind)
}

func TestVerifySignatureRejectsWrongSigner(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	_, sig := signRequest(t, priv, 1, "0x0000000000000000000000000000000000c0de", now.Unix())

	req := SignedUpdateRequest{
		ChainID: 1, TokenAddress: "0x0000000000000000000000000000000000c0de",
		TokenOwner: "0x000000000000000000000000000000deadbeef", Timestamp: now.Unix(), Signature: sig,
		Metadata: &Input{Description: "hi"},
	}
	require.Error(t, VerifySignature(req, 300, now))
}

func TestInputValidateRejectsOversizedDescription(t *testing.T) {
	in := Input{Description: string(make([]byte, MaxDescriptionLength+1))}
	require.Error(t, in.Validate())
}

func TestInputValidateRejectsBadSocialLink(t *testing.T) {
	in := Input{SocialNetworks: []SocialNetwork{{Name: "x", Link: "ftp://example.com"}}}
	require.Error(t, in.Validate())
}

func TestGetMetadataDefaultsWhenMissing(t *testing.T) {
	svc, _, _ := newTestService(t, time.Minute)
	resp, light, dark, err := svc.GetMetadata(1, "0xabc")
	require.NoError(t, err)
	require.Equal(t, DefaultDescription, resp.Description)
	require.Empty(t, light)
	require.Empty(t, dark)
}

func TestGetMetadataReturnsDefaultsWhenLockedWithDefaults(t *testing.T) {
	svc, store, _ := newTestService(t, time.Minute)
	now := time.Now()
	m := newDefault(1, "0xabc", now)
	m.Description = "custom"
	require.NoError(t, store.Put(m))
	require.NoError(t, store.PutLock(1, "0xabc", Lock{Kind: LockKindLockedWithDefaults, LockedAt: now, LockedBy: "admin"}))

	resp, _, _, err := svc.GetMetadata(1, "0xabc")
	require.NoError(t, err)
	require.Equal(t, DefaultDescription, resp.Description)
}

func TestUpsertMetadataRejectsUnsupportedChain(t *testing.T) {
	svc, _, _ := newTestService(t, time.Minute)
	_, _, _, err := svc.UpsertMetadata(context.Background(), SignedUpdateRequest{
		ChainID: 999, TokenAddress: "0xabc", Metadata: &Input{Description: "hi"},
	}, time.Now())
	require.Error(t, err)
}

func TestUpsertMetadataRejectsWhenLocked(t *testing.T) {
	svc, store, _ := newTestService(t, time.Minute)
	now := time.Now()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	m := newDefault(1, "0x0000000000000000000000000000000000c0de", now)
	require.NoError(t, store.Put(m))
	require.NoError(t, store.PutLock(1, "0x0000000000000000000000000000000000c0de", Lock{Kind: LockKindLocked, LockedAt: now, LockedBy: "admin"}))

	owner, sig := signRequest(t, priv, 1, "0x0000000000000000000000000000000000c0de", now.Unix())

	// creator() returns the signer, so the ownership check passes and the
	// lock is what rejects the update
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":"0x000000000000000000000000%s"}`, strings.TrimPrefix(owner, "0x"))
	}))
	defer rpc.Close()
	svc.networks = fakeResolver{chainID: 1, primary: rpc.URL}

	_, _, _, err = svc.UpsertMetadata(context.Background(), SignedUpdateRequest{
		ChainID: 1, TokenAddress: "0x0000000000000000000000000000000000c0de",
		TokenOwner: owner, Timestamp: now.Unix(), Signature: sig,
		Metadata: &Input{Description: "hi"},
	}, now)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindTokenLocked, appErr.Kind)
}

func TestCanUpdateHonorsCooldown(t *testing.T) {
	_, store, _ := newTestService(t, time.Minute)
	now := time.Now()
	require.NoError(t, store.RecordUpdate(1, "0xabc", now))

	can, _, err := store.CanUpdate(1, "0xabc", time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	require.False(t, can)

	can, _, err = store.CanUpdate(1, "0xabc", time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	require.True(t, can)
}

func TestAdminLockThenUnlock(t *testing.T) {
	svc, store, _ := newTestService(t, time.Minute)
	now := time.Now()
	require.NoError(t, svc.AdminLock(1, "0xabc", LockKindLocked, "spam", "admin", now))

	lock, err := store.GetLock(1, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.Equal(t, LockKindLocked, lock.Kind)

	require.NoError(t, svc.AdminUnlock(1, "0xabc", now))
	lock, err = store.GetLock(1, "0xabc")
	require.NoError(t, err)
	require.Nil(t, lock)
}

func TestAdminLockWithDefaultsClearsStoredContentAndMedia(t *testing.T) {
	svc, store, medias := newTestService(t, time.Minute)
	now := time.Now()

	m := newDefault(1, "0xabc", now)
	m.Description = "custom description"
	m.SocialNetworks = []SocialNetwork{{Name: "x", Link: "https://example.com"}}
	require.NoError(t, store.Put(m))

	_, _, _, err := svc.AdminUpdate(AdminUpdateRequest{
		ImageLight: redPNG(t), ImageLightFilename: "light.png", UpdatedBy: "admin",
	}, 1, "0xabc", now)
	require.NoError(t, err)

	stored, found, err := store.Get(1, "0xabc")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, stored.ImageLightID)
	oldImageID := stored.ImageLightID

	require.NoError(t, svc.AdminLock(1, "0xabc", LockKindLockedWithDefaults, "policy", "admin", now))

	stored, found, err = store.Get(1, "0xabc")
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, stored.Description)
	require.Empty(t, stored.SocialNetworks)
	require.Empty(t, stored.ImageLightID)

	_, err = medias.Get(oldImageID)
	require.Error(t, err)

	lock, err := store.GetLock(1, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.Equal(t, LockKindLockedWithDefaults, lock.Kind)
}

func TestAdminUpdateIngestsImageAndBypassesCooldown(t *testing.T) {
	svc, store, _ := newTestService(t, time.Hour)
	now := time.Now()
	require.NoError(t, store.RecordUpdate(1, "0xabc", now))

	desc := "set by admin"
	resp, _, _, err := svc.AdminUpdate(AdminUpdateRequest{
		Description: &desc,
		ImageLight:  redPNG(t), ImageLightFilename: "light.png",
		UpdatedBy: "admin",
	}, 1, "0xabc", now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, desc, resp.Description)

	m, found, err := store.Get(1, "0xabc")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, m.ImageLightID)
}

// TestAdminDeleteRemovesRecordButNotLock mirrors original_source's
// admin_delete_metadata, which deletes the metadata row but never touches
// the separate lock table: an admin lock outlives the record it was set on.
func TestAdminDeleteRemovesRecordButNotLock(t *testing.T) {
	svc, store, _ := newTestService(t, time.Minute)
	now := time.Now()
	require.NoError(t, store.Put(newDefault(1, "0xabc", now)))
	require.NoError(t, svc.AdminLock(1, "0xabc", LockKindLocked, "spam", "admin", now))
	require.NoError(t, svc.AdminDelete(1, "0xabc"))

	_, found, err := store.Get(1, "0xabc")
	require.NoError(t, err)
	require.False(t, found)

	lock, err := store.GetLock(1, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, lock)
}

func TestAdminDeleteDeletesLinkedMedia(t *testing.T) {
	svc, store, medias := newTestService(t, time.Minute)
	now := time.Now()

	_, _, _, err := svc.AdminUpdate(AdminUpdateRequest{
		ImageLight: redPNG(t), ImageLightFilename: "light.png", UpdatedBy: "admin",
	}, 1, "0xabc", now)
	require.NoError(t, err)

	stored, found, err := store.Get(1, "0xabc")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, stored.ImageLightID)
	oldImageID := stored.ImageLightID

	require.NoError(t, svc.AdminDelete(1, "0xabc"))

	_, found, err = store.Get(1, "0xabc")
	require.NoError(t, err)
	require.False(t, found)

	_, err = medias.Get(oldImageID)
	require.Error(t, err)
}
