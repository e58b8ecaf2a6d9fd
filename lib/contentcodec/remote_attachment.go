// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentcodec

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/parley/lib/contenttype"
	"github.com/bureau-foundation/parley/lib/netutil"
)

// RemoteAttachment points at an encrypted attachment hosted outside the
// message. The message carries only the location and the key material;
// the payload is fetched and decrypted on demand.
type RemoteAttachment struct {
	URL string
	// ContentDigest is the hex BLAKE3 digest of the encrypted payload.
	ContentDigest string
	Secret        []byte
	Salt          []byte
	Nonce         []byte
	// Scheme is the URL scheme including "://", e.g. "https://".
	Scheme        string
	ContentLength int
	Filename      string
}

// KeySize is the size of the remote attachment secret and salt.
const KeySize = 32

var hkdfInfoRemoteAttachment = []byte("parley.remote-attachment.v1")

// RemoteAttachmentCodec stores the URL as content and everything else
// as parameters, with binary fields hex-encoded.
type RemoteAttachmentCodec struct{}

var (
	_ Codec            = RemoteAttachmentCodec{}
	_ FallbackProvider = RemoteAttachmentCodec{}
)

func (RemoteAttachmentCodec) ContentType() contenttype.ID { return contenttype.RemoteAttachment }

func (RemoteAttachmentCodec) Encode(content any) (*EncodedContent, error) {
	remote, ok := remoteAttachmentFrom(content)
	if !ok {
		return nil, unexpected(contenttype.RemoteAttachment, content)
	}
	if remote.URL == "" {
		return nil, fmt.Errorf("remote attachment has no URL")
	}
	if remote.Scheme == "" || !strings.HasPrefix(remote.URL, remote.Scheme) {
		return nil, fmt.Errorf("remote attachment URL %q does not use scheme %q", remote.URL, remote.Scheme)
	}
	return &EncodedContent{
		Type: contenttype.RemoteAttachment,
		Parameters: map[string]string{
			"contentDigest": remote.ContentDigest,
			"secret":        hex.EncodeToString(remote.Secret),
			"salt":          hex.EncodeToString(remote.Salt),
			"nonce":         hex.EncodeToString(remote.Nonce),
			"scheme":        remote.Scheme,
			"contentLength": strconv.Itoa(remote.ContentLength),
			"filename":      remote.Filename,
		},
		Content: []byte(remote.URL),
	}, nil
}

func (RemoteAttachmentCodec) Decode(encoded *EncodedContent) (any, error) {
	remote := RemoteAttachment{
		URL:           string(encoded.Content),
		ContentDigest: encoded.Parameter("contentDigest"),
		Scheme:        encoded.Parameter("scheme"),
		Filename:      encoded.Parameter("filename"),
	}
	var err error
	if remote.Secret, err = hex.DecodeString(encoded.Parameter("secret")); err != nil {
		return nil, fmt.Errorf("remote attachment secret: %w", err)
	}
	if remote.Salt, err = hex.DecodeString(encoded.Parameter("salt")); err != nil {
		return nil, fmt.Errorf("remote attachment salt: %w", err)
	}
	if remote.Nonce, err = hex.DecodeString(encoded.Parameter("nonce")); err != nil {
		return nil, fmt.Errorf("remote attachment nonce: %w", err)
	}
	if length := encoded.Parameter("contentLength"); length != "" {
		if remote.ContentLength, err = strconv.Atoi(length); err != nil {
			return nil, fmt.Errorf("remote attachment contentLength: %w", err)
		}
	}
	return remote, nil
}

func (RemoteAttachmentCodec) Fallback(content any) (string, bool) {
	remote, ok := remoteAttachmentFrom(content)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Can't display %q. This app doesn't support remote attachments.", remote.Filename), true
}

func remoteAttachmentFrom(content any) (RemoteAttachment, bool) {
	switch value := content.(type) {
	case RemoteAttachment:
		return value, true
	case *RemoteAttachment:
		if value != nil {
			return *value, true
		}
	}
	return RemoteAttachment{}, false
}

// EncryptedAttachment is the output of EncryptAttachment: the payload
// to upload plus the key material a RemoteAttachment needs.
type EncryptedAttachment struct {
	Payload       []byte
	ContentDigest string
	Secret        []byte
	Salt          []byte
	Nonce         []byte
	ContentLength int
	Filename      string
}

// RemoteAttachment describes the uploaded payload at url.
func (e *EncryptedAttachment) RemoteAttachment(url string) (RemoteAttachment, error) {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return RemoteAttachment{}, fmt.Errorf("contentcodec: attachment URL %q has no scheme", url)
	}
	return RemoteAttachment{
		URL:           url,
		ContentDigest: e.ContentDigest,
		Secret:        e.Secret,
		Salt:          e.Salt,
		Nonce:         e.Nonce,
		Scheme:        scheme + "://",
		ContentLength: e.ContentLength,
		Filename:      e.Filename,
	}, nil
}

// EncryptAttachment seals attachment for remote hosting. The plaintext
// is the attachment's own envelope, so the receiver recovers the file
// name and MIME type along with the bytes.
func EncryptAttachment(attachment Attachment) (*EncryptedAttachment, error) {
	envelope, err := EncodeContent(AttachmentCodec{}, attachment)
	if err != nil {
		return nil, err
	}
	plaintext, err := Marshal(envelope)
	if err != nil {
		return nil, err
	}

	secret := make([]byte, KeySize)
	salt := make([]byte, KeySize)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	for _, buffer := range [][]byte{secret, salt, nonce} {
		if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
			return nil, fmt.Errorf("contentcodec: generating attachment key material: %w", err)
		}
	}

	aead, err := attachmentAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	payload := aead.Seal(nil, nonce, plaintext, nil)
	return &EncryptedAttachment{
		Payload:       payload,
		ContentDigest: digest(payload),
		Secret:        secret,
		Salt:          salt,
		Nonce:         nonce,
		ContentLength: len(attachment.Data),
		Filename:      attachment.Filename,
	}, nil
}

// DecryptAttachment verifies payload against remote's digest and opens
// it.
func DecryptAttachment(payload []byte, remote RemoteAttachment) (Attachment, error) {
	if subtle.ConstantTimeCompare([]byte(digest(payload)), []byte(remote.ContentDigest)) != 1 {
		return Attachment{}, fmt.Errorf("contentcodec: remote attachment digest mismatch")
	}
	if len(remote.Nonce) != chacha20poly1305.NonceSizeX {
		return Attachment{}, fmt.Errorf("contentcodec: remote attachment nonce is %d bytes, want %d",
			len(remote.Nonce), chacha20poly1305.NonceSizeX)
	}
	aead, err := attachmentAEAD(remote.Secret, remote.Salt)
	if err != nil {
		return Attachment{}, err
	}
	plaintext, err := aead.Open(nil, remote.Nonce, payload, nil)
	if err != nil {
		return Attachment{}, fmt.Errorf("contentcodec: opening remote attachment: %w", err)
	}
	envelope, err := Unmarshal(plaintext)
	if err != nil {
		return Attachment{}, err
	}
	if envelope.Type != contenttype.Attachment {
		return Attachment{}, fmt.Errorf("contentcodec: remote attachment wraps %s, want %s", envelope.Type, contenttype.Attachment)
	}
	value, err := AttachmentCodec{}.Decode(envelope)
	if err != nil {
		return Attachment{}, err
	}
	return value.(Attachment), nil
}

func attachmentAEAD(secret, salt []byte) (cipher.AEAD, error) {
	if len(secret) != KeySize {
		return nil, fmt.Errorf("contentcodec: attachment secret is %d bytes, want %d", len(secret), KeySize)
	}
	reader := hkdf.New(sha256.New, secret, salt, hkdfInfoRemoteAttachment)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("contentcodec: deriving attachment key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("contentcodec: creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}

func digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Fetcher downloads and decrypts remote attachments.
type Fetcher struct {
	// HTTPClient is used for downloads. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// MaxSize caps the payload size. Zero means netutil.MaxResponseSize.
	MaxSize int64

	// AllowInsecure permits http:// URLs. Only tests and local
	// development should set it.
	AllowInsecure bool
}

// Fetch downloads remote's payload and decrypts it.
func (f *Fetcher) Fetch(ctx context.Context, remote RemoteAttachment) (Attachment, error) {
	switch {
	case remote.Scheme == "https://" && strings.HasPrefix(remote.URL, "https://"):
	case f.AllowInsecure && remote.Scheme == "http://" && strings.HasPrefix(remote.URL, "http://"):
	default:
		return Attachment{}, fmt.Errorf("contentcodec: refusing to fetch attachment from %q", remote.URL)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.URL, nil)
	if err != nil {
		return Attachment{}, fmt.Errorf("contentcodec: building attachment request: %w", err)
	}
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return Attachment{}, fmt.Errorf("contentcodec: fetching attachment: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Attachment{}, fmt.Errorf("contentcodec: fetching attachment: HTTP %d: %s",
			response.StatusCode, netutil.ErrorBody(response.Body))
	}
	payload, err := netutil.ReadBounded(response.Body, f.MaxSize)
	if err != nil {
		return Attachment{}, fmt.Errorf("contentcodec: reading attachment: %w", err)
	}
	return DecryptAttachment(payload, remote)
}
